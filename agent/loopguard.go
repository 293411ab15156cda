package agent

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DefaultLoopThreshold is how many repetitions of one tool call end a run.
const DefaultLoopThreshold = 3

type loopVerdict int

const (
	loopOK loopVerdict = iota
	// loopWarn asks the model to change course.
	loopWarn
	// loopBreak ends the run.
	loopBreak
)

type callDigest [16]byte

type callRecord struct {
	tool   string
	args   callDigest
	result callDigest
	failed bool
}

// loopGuard spots a model going in circles: the same call back to back,
// the same failing call, the same call returning the same output, or two
// calls taking turns.
type loopGuard struct {
	threshold int
	history   []callRecord
}

func newLoopGuard(threshold int) *loopGuard {
	if threshold < 2 {
		threshold = 2
	}
	return &loopGuard{threshold: threshold}
}

func digest(data []byte) callDigest {
	sum := blake2b.Sum256(data)
	var d callDigest
	copy(d[:], sum[:])
	return d
}

func (g *loopGuard) record(tool string, args map[string]any, result string, failed bool) {
	raw, _ := json.Marshal(args) // map keys marshal sorted
	g.history = append(g.history, callRecord{
		tool:   tool,
		args:   digest(raw),
		result: digest([]byte(result)),
		failed: failed,
	})
}

func (r callRecord) sameCall(o callRecord) bool { return r.tool == o.tool && r.args == o.args }

// check inspects the history after the latest call. Break conditions win
// over warnings.
func (g *loopGuard) check() (loopVerdict, string) {
	n := len(g.history)
	if n == 0 {
		return loopOK, ""
	}
	last := g.history[n-1]

	sameOutcome := 0
	for _, r := range g.history {
		if r.sameCall(last) && r.failed == last.failed && r.result == last.result {
			sameOutcome++
		}
	}
	if last.failed && sameOutcome >= g.threshold-1 {
		return loopBreak, fmt.Sprintf("tool %q failed the same way %d times", last.tool, sameOutcome)
	}
	if !last.failed && sameOutcome >= g.threshold {
		return loopBreak, fmt.Sprintf("tool %q returned identical output %d times", last.tool, sameOutcome)
	}

	run := 1
	for i := n - 2; i >= 0 && g.history[i].sameCall(last); i-- {
		run++
	}
	if run >= g.threshold {
		return loopBreak, fmt.Sprintf("tool %q called with the same arguments %d times in a row", last.tool, run)
	}

	if cycles := g.alternations(); cycles >= g.threshold {
		return loopBreak, fmt.Sprintf("tools %q and %q alternated %d times", g.history[n-2].tool, last.tool, cycles)
	}
	if run == g.threshold-1 {
		return loopWarn, fmt.Sprintf("tool %q called with the same arguments %d times in a row", last.tool, run)
	}
	return loopOK, ""
}

// alternations counts trailing A,B pairs of two distinct calls.
func (g *loopGuard) alternations() int {
	n := len(g.history)
	if n < 4 {
		return 0
	}
	a, b := g.history[n-2], g.history[n-1]
	if a.sameCall(b) {
		return 0
	}
	cycles := 0
	for i := n - 1; i >= 1; i -= 2 {
		if !g.history[i-1].sameCall(a) || !g.history[i].sameCall(b) {
			break
		}
		cycles++
	}
	return cycles
}
