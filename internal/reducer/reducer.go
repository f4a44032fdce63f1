// Package reducer folds an item's record generations into application state.
package reducer

import (
	"context"
	"fmt"

	"github.com/starford/othala/internal/repo"
)

// State is the folded view of one item: a JSON-shaped map produced by a
// Reducer from the item's ordered generations.
type State map[string]any

// Reducer consumes an item's generations, oldest first, and folds them into
// a state value. The enumeration contract guarantees every record arrives
// after all of its parents and, when integrity checking is enabled on the
// item, already verified.
type Reducer interface {
	Reduce(ctx context.Context, item *repo.Item) (State, error)
}

// Merge is the default reducer: each record's files overwrite the folded
// view of the same file names, so the newest generation wins per file. The
// resulting state carries the merged file set, the record that contributed
// each file's current value, and DAG summary counters.
//
// Within a single generation record order is lexical by name, which keeps
// the fold deterministic when siblings touch the same file.
type Merge struct{}

var _ Reducer = Merge{}

// Reduce walks the item's generations and folds them.
func (Merge) Reduce(ctx context.Context, item *repo.Item) (State, error) {
	files := map[string]any{}
	var heads []string
	records, generations := 0, 0

	it := item.Records()
	for gen := it.Next(); gen != nil; gen = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reducer: %w", err)
		}
		generations++
		heads = heads[:0]
		for _, rec := range gen {
			records++
			heads = append(heads, rec.Name())
			names, err := rec.Files()
			if err != nil {
				return nil, fmt.Errorf("reducer: record %s: %w", rec.Name(), err)
			}
			for _, name := range names {
				data, err := rec.Read(name)
				if err != nil {
					return nil, fmt.Errorf("reducer: record %s: %w", rec.Name(), err)
				}
				files[name] = map[string]any{
					"value":  string(data),
					"record": rec.Name(),
				}
			}
		}
	}

	headsOut := make([]string, len(heads))
	copy(headsOut, heads)
	return State{
		"files":       files,
		"heads":       headsOut,
		"records":     records,
		"generations": generations,
	}, nil
}
