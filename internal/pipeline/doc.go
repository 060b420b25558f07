// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline owns the active message list and drives one exchange at
// a time: user message, completion call, reply reveal, debounced save.
//
// # Key Types
//
//   - Pipeline: The active message list and its state machine
//   - Request: Text, attachments and model of one send
//   - Outcome: What a settled exchange appended
//   - Event: Notifications for presentation layers
//
// # Usage
//
//	p := pipeline.New(client, recorder, pipeline.DefaultConfig(), log)
//	p.SetObserver(func(ev pipeline.Event) { render(ev) })
//
//	out, err := p.Send(ctx, pipeline.Request{Text: "Hello", ModelID: model.DefaultModelID})
//	switch {
//	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrEmptyInput):
//	    // input rejected, ignore
//	case out.Failed:
//	    // an "Error: ..." assistant message was appended
//	}
//
// # States
//
// The pipeline is idle or sending. A successful exchange returns to idle as
// soon as the empty assistant message is appended; its content arrives
// through the reveal and is committed once, when the reveal completes.
package pipeline
