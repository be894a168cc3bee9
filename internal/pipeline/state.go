package pipeline

import (
	"github.com/Divas-Gupta30/workflow-builder/internal/generation"
	"github.com/Divas-Gupta30/workflow-builder/internal/graph"
)

// Stage is a step of one run.
type Stage int

const (
	StageAdmitted Stage = iota
	StageValidated
	StageRetrieved
	StageWebSearched
	StageComposed
	StageGenerated
	StageLogged
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageAdmitted:    "admitted",
	StageValidated:   "validated",
	StageRetrieved:   "retrieved",
	StageWebSearched: "web_searched",
	StageComposed:    "composed",
	StageGenerated:   "generated",
	StageLogged:      "logged",
	StageDone:        "done",
	StageFailed:      "failed",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// state carries one run through the stages.
type state struct {
	req Request

	roles    graph.Roles
	context  []string
	web      []string
	prompt   string
	provider string
	model    string
	answer   string
	stage    Stage
}

func (s *state) generationNode() graph.Node {
	return s.roles.Generation()
}

func (s *state) knowledgeNode() *graph.Node {
	n, ok := s.roles.Knowledge()
	if !ok {
		return nil
	}
	return &n
}

func (s *state) history() []generation.Turn { return s.req.History }
