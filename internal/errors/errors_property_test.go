//go:build property

package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCollectorProperties validates failure collection across a build.
func TestCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent addition loses nothing", prop.ForAll(
		func(goroutineCount int, errorsPerGoroutine int) bool {
			collector := NewCollector()

			var wg sync.WaitGroup
			for g := 0; g < goroutineCount; g++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for e := 0; e < errorsPerGoroutine; e++ {
						collector.Add(NewStageError(StagePDF, fmt.Sprintf("page %d/%d", id, e), nil))
					}
				}(g)
			}
			wg.Wait()

			return len(collector.Errors()) == goroutineCount*errorsPerGoroutine
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 20),
	))

	properties.Property("counts per kind add up to the total", prop.ForAll(
		func(kinds []Kind) bool {
			collector := NewCollector()
			for i, kind := range kinds {
				collector.Add(&BuildError{Kind: kind, Stage: StageRender, Message: fmt.Sprint(i)})
			}

			total := collector.Count(KindStage) + collector.Count(KindData) +
				collector.Count(KindFatal) + collector.Count(KindNotFound)

			return total == len(kinds) && collector.HasErrors() == (len(kinds) > 0)
		},
		gen.SliceOf(genKind()),
	))

	properties.Property("insertion order is kept", prop.ForAll(
		func(n int) bool {
			collector := NewCollector()
			for i := 0; i < n; i++ {
				collector.Add(NewDataError(fmt.Sprintf("data/%d.json", i), "bad", nil))
			}

			for i, err := range collector.Errors() {
				if err.Path != fmt.Sprintf("data/%d.json", i) {
					return false
				}
			}

			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

// TestBuildErrorProperties validates kind classification.
func TestBuildErrorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("kind survives wrapping", prop.ForAll(
		func(kind Kind, message string) bool {
			err := Wrap(&BuildError{Kind: kind, Stage: StageStyles, Message: message}, "outer")

			return KindOf(err) == kind && IsFatal(err) == (kind == KindFatal)
		},
		genKind(),
		gen.AlphaString(),
	))

	properties.Property("message is always part of the error text", prop.ForAll(
		func(message string) bool {
			err := NewStageError(StageStyles, message, nil)

			return containsString(err.Error(), message)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func genKind() gopter.Gen {
	return gen.OneConstOf(KindStage, KindData, KindFatal, KindNotFound)
}

func containsString(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}

	return false
}
