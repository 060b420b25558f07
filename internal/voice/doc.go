// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package voice bridges speech input and output for the chat session.
//
// Listening is one-shot: the final transcript is appended to the compose
// text and never sent automatically. Speaking cancels whatever is being
// spoken, strips Markdown from the text and plays it at a fixed rate,
// pitch and volume. Only one utterance plays at a time.
//
// Speech engines are external programs (CommandRecognizer,
// CommandSynthesizer), e.g. espeak or a whisper CLI.
//
// # Usage
//
//	b := voice.NewBridge(rec, syn, log)
//	if _, err := b.Listen(ctx); err == nil {
//		fmt.Println(b.ComposeText())
//	}
//	b.Speak(reply.Content)
package voice
