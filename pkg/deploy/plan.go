// Package deploy implements the Deployment Planner and Executor (spec
// section 4.7): diffing a current group tree against a target group
// tree into an ordered plan of steps, then driving that plan through
// one Deployment Step Controller per action.
package deploy

import (
	"time"

	"github.com/cuemby/helmsman/pkg/controller"
	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/spec"
)

// ActionKind is the closed set of deployment step actions (spec
// section "Deployment plan").
type ActionKind string

const (
	ActionStart            ActionKind = "StartApplication"
	ActionScale            ActionKind = "ScaleApplication"
	ActionRestart          ActionKind = "RestartApplication"
	ActionStop             ActionKind = "StopApplication"
	ActionResolveArtifacts ActionKind = "ResolveArtifacts"
)

// Action is one unit of work within a step: one run-spec, one kind.
type Action struct {
	Kind      ActionKind
	RunSpecID pathid.Path
	App       *spec.AppSpec // the app to act on; for Stop of a removed spec, the original version

	ScaleTo   int
	ToKill    []string
	Artifacts []controller.Artifact
}

// Step is a set of actions that execute concurrently; steps themselves
// execute sequentially.
type Step struct {
	Actions []Action
}

// Plan is an ordered sequence of steps produced by diffing an original
// root against a target root (spec section 4.7).
type Plan struct {
	ID           string
	Version      time.Time
	OriginalRoot *spec.Group
	TargetRoot   *spec.Group
	Steps        []Step
}
