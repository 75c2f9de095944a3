package ledger

import (
	"sort"

	"github.com/mcdev12/planning-poker/go/internal/models"
)

// Summary describes the votes of one round.
type Summary struct {
	Phase        models.Phase        `json:"phase"`
	Players      int                 `json:"players"`
	Votes        int                 `json:"votes"`
	NumericVotes int                 `json:"numericVotes"`
	Average      float64             `json:"average"`
	Median       float64             `json:"median"`
	Min          int                 `json:"min"`
	Max          int                 `json:"max"`
	Distribution map[string]int      `json:"distribution"`
	ByRole       map[models.Role]int `json:"byRole"`
	Consensus    bool                `json:"consensus"`
	Pending      []string            `json:"pending"` // players who have not voted
}

// Summarize computes round statistics. Votes without a matching player are skipped.
func Summarize(state *models.RoomState) Summary {
	s := Summary{
		Phase:        state.Phase,
		Players:      len(state.Players),
		Distribution: make(map[string]int),
		ByRole:       make(map[models.Role]int),
		Pending:      []string{},
	}

	var numbers []int
	for id := range state.Players {
		v, ok := state.Votes[id]
		if !ok {
			s.Pending = append(s.Pending, id)
			continue
		}
		s.Votes++
		s.Distribution[v.Value.String()]++
		s.ByRole[v.Role]++
		if v.Value.IsNumeric() {
			numbers = append(numbers, v.Value.Number)
		}
	}
	sort.Strings(s.Pending)

	s.NumericVotes = len(numbers)
	s.Consensus = s.Votes > 0 && len(s.Distribution) == 1
	if len(numbers) == 0 {
		return s
	}

	sort.Ints(numbers)
	sum := 0
	for _, n := range numbers {
		sum += n
	}
	s.Average = float64(sum) / float64(len(numbers))
	s.Min = numbers[0]
	s.Max = numbers[len(numbers)-1]
	mid := len(numbers) / 2
	if len(numbers)%2 == 0 {
		s.Median = float64(numbers[mid-1]+numbers[mid]) / 2
	} else {
		s.Median = float64(numbers[mid])
	}
	return s
}
