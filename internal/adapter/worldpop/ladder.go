package worldpop

import "fmt"

// stage is a rung of the degrade ladder tried for one polygonal part.
type stage int

const (
	stageDirect stage = iota
	stageSimplify
	stageTile
	stageDone
	stageFailed
)

func (s stage) String() string {
	switch s {
	case stageDirect:
		return "direct"
	case stageSimplify:
		return "simplify"
	case stageTile:
		return "tile"
	case stageDone:
		return "done"
	default:
		return "failed"
	}
}

// state is a ladder position. level indexes the simplify tolerances or the
// tile cell sizes, depending on the stage.
type state struct {
	stage stage
	level int
}

func (s state) String() string {
	switch s.stage {
	case stageSimplify, stageTile:
		return fmt.Sprintf("%s[%d]", s.stage, s.level)
	default:
		return s.stage.String()
	}
}

// outcome is the result of one attempt at a state.
type outcome int

const (
	// outcomeOK means the service returned a population.
	outcomeOK outcome = iota
	// outcomeNotFit means the request URL would exceed the length ceiling,
	// so it was never sent.
	outcomeNotFit
	// outcomeRejected means the service answered 414.
	outcomeRejected
	// outcomeError covers every other failure.
	outcomeError
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeNotFit:
		return "not_fit"
	case outcomeRejected:
		return "rejected"
	default:
		return "error"
	}
}

// ladder holds the tolerances and cell sizes that define the rungs.
type ladder struct {
	simplify []float64
	tiles    []float64
}

// next is the transition function of the degrade ladder.
//
//	Direct       ok -> Done, anything else -> Simplify(0)
//	Simplify(i)  ok -> Done, rejected -> Tile(0), else -> Simplify(i+1)
//	Tile(j)      ok -> Done, else -> Tile(j+1)
//
// Running off the end of the simplify rungs moves to Tile(0); running off
// the end of the tile rungs is Failed.
func (l ladder) next(s state, o outcome) state {
	if o == outcomeOK {
		return state{stage: stageDone}
	}

	switch s.stage {
	case stageDirect:
		return l.simplifyAt(0)
	case stageSimplify:
		if o == outcomeRejected {
			return l.tileAt(0)
		}
		return l.simplifyAt(s.level + 1)
	case stageTile:
		return l.tileAt(s.level + 1)
	default:
		return s
	}
}

func (l ladder) simplifyAt(i int) state {
	if i < len(l.simplify) {
		return state{stage: stageSimplify, level: i}
	}
	return l.tileAt(0)
}

func (l ladder) tileAt(j int) state {
	if j < len(l.tiles) {
		return state{stage: stageTile, level: j}
	}
	return state{stage: stageFailed}
}
