package actions

import (
	"context"

	"github.com/openfroyo/nixinstaller/pkg/transports"
)

type stubAction struct {
	state ActionState
}

func (s stubAction) Kind() Kind                                       { return "stub" }
func (s stubAction) Describe() []ActionDescription                    { return nil }
func (s stubAction) Execute(context.Context, transports.Target) error { return nil }
func (s stubAction) Revert(context.Context, transports.Target) error  { return nil }
func (s stubAction) ActionState() ActionState                         { return s.state }

type progressingStub struct {
	stubAction
}

func (progressingStub) HasProgress() bool { return true }
