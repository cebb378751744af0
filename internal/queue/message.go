// Package queue is the at-least-once message channel between stages.
//
// Messages are a closed tagged union: a run_stage message asks a stage queue
// to run a stage, and after_* messages tell the router a stage finished.
// Decoding rejects any other kind.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/provenant/internal/model"
)

// ErrUnknownKind is returned when a message carries an unrecognised kind
var ErrUnknownKind = errors.New("unknown message kind")

// ErrRejected marks a well-formed message that can never be processed, such
// as a signal delivered to the wrong queue. Consumers drop it instead of
// waiting for redelivery.
var ErrRejected = errors.New("message rejected")

// Kind discriminates the message union
type Kind string

const (
	KindRunStage      Kind = "run_stage"
	KindAfterEvidence Kind = "after_evidence"
	KindAfterPillars  Kind = "after_pillars"
	KindAfterOutline  Kind = "after_outline"
	KindAfterSections Kind = "after_sections"
	KindAfterAssemble Kind = "after_assemble"
)

// Kinds returns every known kind
func Kinds() []Kind {
	return []Kind{KindRunStage, KindAfterEvidence, KindAfterPillars, KindAfterOutline, KindAfterSections, KindAfterAssemble}
}

// FinishedStage returns the stage an after_* kind reports as finished
func (k Kind) FinishedStage() (model.Stage, bool) {
	switch k {
	case KindAfterEvidence:
		return model.StageEvidence, true
	case KindAfterPillars:
		return model.StagePillarsSynth, true
	case KindAfterOutline:
		return model.StageOutline, true
	case KindAfterSections:
		return model.StageSectionWrites, true
	case KindAfterAssemble:
		return model.StageAssemble, true
	default:
		return "", false
	}
}

// AfterKind returns the signal kind emitted when stage s finishes
func AfterKind(s model.Stage) (Kind, bool) {
	for _, k := range Kinds() {
		if st, ok := k.FinishedStage(); ok && st == s {
			return k, true
		}
	}
	return "", false
}

// Message is one queued envelope
type Message struct {
	ID      string      `json:"id"`
	Kind    Kind        `json:"kind"`
	RunID   string      `json:"run_id"`
	Prefix  string      `json:"prefix"`
	Stage   model.Stage `json:"stage,omitempty"`
	Attempt int         `json:"attempt,omitempty"`
}

// NewRunStage builds a message that asks a stage queue to run stage
func NewRunStage(runID, prefix string, stage model.Stage) Message {
	return Message{ID: uuid.NewString(), Kind: KindRunStage, RunID: runID, Prefix: prefix, Stage: stage}
}

// NewAfter builds the finished signal for stage
func NewAfter(runID, prefix string, stage model.Stage) (Message, error) {
	kind, ok := AfterKind(stage)
	if !ok {
		return Message{}, fmt.Errorf("no finished signal for stage %q", stage)
	}
	return Message{ID: uuid.NewString(), Kind: kind, RunID: runID, Prefix: prefix}, nil
}

// Validate checks kind-specific required fields
func (m Message) Validate() error {
	if m.Prefix == "" {
		return fmt.Errorf("message %s: missing prefix", m.ID)
	}
	switch m.Kind {
	case KindRunStage:
		if m.Stage.Position() < 0 || m.Stage.IsTerminal() {
			return fmt.Errorf("message %s: invalid stage %q", m.ID, m.Stage)
		}
	case KindAfterEvidence, KindAfterPillars, KindAfterOutline, KindAfterSections, KindAfterAssemble:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// Encode serializes m
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a message body
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Delivery is a leased message. Err is set when the body could not be decoded;
// such deliveries should be acknowledged and dropped.
type Delivery struct {
	Message Message
	Receipt string
	Attempt int
	Err     error
}

// Sender sends messages to named queues
type Sender interface {
	Send(ctx context.Context, queue string, m Message) error
}

// Receiver leases and acknowledges messages. A leased message that is not
// acknowledged before its lease expires is delivered again.
type Receiver interface {
	Receive(ctx context.Context, queue string, max int, lease time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, queue string, receipt string) error
}

// Queue is a full message channel
type Queue interface {
	Sender
	Receiver
}
