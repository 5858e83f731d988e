package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/serial"
)

// DefaultThinkTimeout bounds one AI deliberation.
const DefaultThinkTimeout = 10 * time.Second

// thinkBudget maps a difficulty level to a rollout budget.
func thinkBudget(level string) int {
	switch level {
	case "easy":
		return 100
	case "hard":
		return 10000
	case "expert":
		return 100000
	default:
		return 1000
	}
}

// aiThought is what a finished deliberation wants to commit.
type aiThought struct {
	seat   int
	action string
	args   map[string]any // wire form
}

// aiController drives AI-held seats. After every committed mutation the
// session calls Evaluate: any in-flight deliberation is cancelled (its
// premises are stale), and if the turn now belongs to an AI seat a new one
// starts on a clone of the game. The result commits through the same
// validation path as a human action, and only if the game has not moved on
// since thinking began.
type aiController struct {
	s       *Session
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func newAIController(s *Session, log *zap.Logger, timeout time.Duration) *aiController {
	if timeout <= 0 {
		timeout = DefaultThinkTimeout
	}
	return &aiController{s: s, log: log, timeout: timeout}
}

// Evaluate cancels any in-flight deliberation and starts a new one when an
// AI seat is to move. Safe to call from any goroutine; must not be called
// while holding the session lane.
func (c *aiController) Evaluate() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	clone, seat, level, mut, ok := c.s.aiTurnSnapshot()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	go c.deliberate(ctx, cancel, clone, seat, level, mut)
}

// Stop cancels any in-flight deliberation and prevents new ones.
func (c *aiController) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
}

func (c *aiController) deliberate(ctx context.Context, cancel context.CancelFunc, clone *engine.Game, seat int, level string, mut int) {
	defer cancel()

	// Deterministic per decision point: same seed, same history length,
	// same seat always deliberates identically.
	rng := engine.NewRand(fmt.Sprintf("%s|ai|%d|%d", clone.Seed(), mut, seat))

	thought, err := chooseMove(ctx, clone, seat, thinkBudget(level), rng)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return // superseded by a newer mutation
		}
		c.log.Warn("ai deliberation failed", zap.Int("seat", seat), zap.Error(err))
		return
	}

	if err := c.s.commitAI(mut, thought); err != nil {
		c.log.Debug("ai move discarded", zap.Int("seat", seat), zap.String("action", thought.action), zap.Error(err))
	}
}

// chooseMove picks a move by random rollouts. Candidates are fully-specified
// legal moves enumerated from the live availability set; each gets an equal
// share of the budget. On timeout the best-scored candidate so far wins, and
// with no scores at all the first candidate stands, so a timed-out AI still
// moves legally.
func chooseMove(ctx context.Context, g *engine.Game, seat int, budget int, rng *engine.Rand) (*aiThought, error) {
	candidates, err := enumerateMoves(g, seat, rng)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("seat %d has no legal moves", seat)
	}

	scores := make([]float64, len(candidates))
	plays := make([]int, len(candidates))
	perCandidate := budget / len(candidates)
	if perCandidate < 1 {
		perCandidate = 1
	}

rollouts:
	for round := 0; round < perCandidate; round++ {
		for i, cand := range candidates {
			select {
			case <-ctx.Done():
				break rollouts
			default:
			}
			score, err := rollout(g, seat, cand, rng)
			if err != nil {
				continue
			}
			scores[i] += score
			plays[i]++
		}
	}
	if ctx.Err() == context.Canceled {
		return nil, ctx.Err()
	}

	best := 0
	bestAvg := -1.0
	for i := range candidates {
		if plays[i] == 0 {
			continue
		}
		if avg := scores[i] / float64(plays[i]); avg > bestAvg {
			bestAvg = avg
			best = i
		}
	}
	return toThought(seat, candidates[best])
}

// candidateMove is one fully-specified legal move on the thinking clone.
type candidateMove struct {
	action string
	args   map[string]any
}

// enumerateMoves builds candidate moves: for every available action, a small
// sample of argument combinations drawn from the live choice sets.
func enumerateMoves(g *engine.Game, seat int, rng *engine.Rand) ([]candidateMove, error) {
	var out []candidateMove
	for _, name := range g.AvailableActions(seat) {
		def, _ := g.ActionDef(name)
		samples := 1
		if len(def.Selections) > 0 {
			samples = 4
		}
		for i := 0; i < samples; i++ {
			args, ok := sampleArgs(g, def, seat, rng)
			if !ok {
				break
			}
			out = append(out, candidateMove{action: name, args: args})
		}
	}
	return out, nil
}

// sampleArgs walks an action's selections in order, picking a random legal
// value at each step. Returns false when any step has no legal values.
func sampleArgs(g *engine.Game, def *engine.ActionDef, seat int, rng *engine.Rand) (map[string]any, bool) {
	args := map[string]any{}
	for _, sel := range def.Selections {
		choices, err := g.SelectionChoices(def.Name, sel.Name, seat, args)
		if err != nil {
			return nil, false
		}
		v, ok := pickChoice(choices, rng)
		if !ok {
			return nil, false
		}
		args[sel.Name] = v
	}
	return args, true
}

func pickChoice(c *engine.Choices, rng *engine.Rand) (any, bool) {
	switch c.Kind {
	case engine.SelectionElement:
		if len(c.Elements) == 0 {
			return nil, false
		}
		return c.Elements[rng.Intn(len(c.Elements))], true
	case engine.SelectionNumber:
		if c.Max < c.Min {
			return nil, false
		}
		return c.Min + rng.Intn(c.Max-c.Min+1), true
	case engine.SelectionText:
		return "", true
	default:
		if len(c.Values) == 0 {
			return nil, false
		}
		return c.Values[rng.Intn(len(c.Values))], true
	}
}

const rolloutDepth = 12

// rollout applies the candidate on a fresh clone and plays random moves to a
// bounded depth. Scores 1 for a win, 0 for a loss, 0.5 for unresolved.
func rollout(g *engine.Game, seat int, cand candidateMove, rng *engine.Rand) (float64, error) {
	sim, err := g.Clone()
	if err != nil {
		return 0, err
	}
	args, err := transferArgs(cand.args, sim)
	if err != nil {
		return 0, err
	}
	if err := sim.PerformAction(cand.action, seat, args); err != nil {
		return 0, err
	}
	for depth := 0; depth < rolloutDepth && !sim.IsComplete(); depth++ {
		mover := sim.CurrentSeat()
		names := sim.AvailableActions(mover)
		if len(names) == 0 {
			break
		}
		def, _ := sim.ActionDef(names[rng.Intn(len(names))])
		randArgs, ok := sampleArgs(sim, def, mover, rng)
		if !ok {
			continue
		}
		if err := sim.PerformAction(def.Name, mover, randArgs); err != nil {
			break
		}
	}
	if !sim.IsComplete() {
		return 0.5, nil
	}
	for _, w := range sim.Winners() {
		if w == seat {
			return 1, nil
		}
	}
	return 0, nil
}

// transferArgs re-resolves engine values from the thinking clone against
// another game instance. Element ids are stable across clones of the same
// state, so the round trip through wire form is exact.
func transferArgs(args map[string]any, target *engine.Game) (map[string]any, error) {
	wire, err := serial.SerializeValue(args, serial.Options{})
	if err != nil {
		return nil, err
	}
	v, err := serial.DeserializeValue(wire, target)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func toThought(seat int, cand candidateMove) (*aiThought, error) {
	wire, err := serial.SerializeValue(cand.args, serial.Options{})
	if err != nil {
		return nil, err
	}
	args, _ := wire.(map[string]any)
	return &aiThought{seat: seat, action: cand.action, args: args}, nil
}
