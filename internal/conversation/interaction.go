package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
)

// pendingInteraction pairs an InteractionRequest with the channel its
// answer arrives on.
type pendingInteraction struct {
	request  InteractionRequest
	response chan InteractionAnswer
}

// interactionStore tracks pending user-interaction requests and resolves
// WaitForResponse via a buffered channel rather than polling. The design
// notes call out busy-polling for this exact wait as a source pattern that
// should be re-architected to a channel wakeup with equivalent timeout
// semantics; this is that channel.
type interactionStore struct {
	mu      sync.RWMutex
	pending map[string]*pendingInteraction
	timeout time.Duration
}

func newInteractionStore(timeout time.Duration) *interactionStore {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &interactionStore{pending: make(map[string]*pendingInteraction), timeout: timeout}
}

// Create registers a new interaction request and returns it.
func (s *interactionStore) Create(conversationID, prompt string, inputType InputType, options []string, urgent bool) InteractionRequest {
	now := time.Now()
	req := InteractionRequest{
		InteractionID:  uuid.New().String(),
		ConversationID: conversationID,
		Prompt:         prompt,
		InputType:      inputType,
		Options:        options,
		RequestTime:    now,
		TimeoutTime:    now.Add(s.timeout),
		Urgent:         urgent,
	}
	s.mu.Lock()
	s.pending[req.InteractionID] = &pendingInteraction{request: req, response: make(chan InteractionAnswer, 1)}
	s.mu.Unlock()
	return req
}

// HasPendingFor reports whether any interaction is still outstanding for
// conversationID, used by the conversation termination rule.
func (s *interactionStore) HasPendingFor(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pending {
		if p.request.ConversationID == conversationID {
			return true
		}
	}
	return false
}

// WaitForResponse blocks until an answer arrives or timeout elapses,
// whichever is first; the 100ms figure in the design notes is an upper bound
// on delivery latency, not a polling interval — this channel delivers
// immediately on ProvideResponse.
func (s *interactionStore) WaitForResponse(ctx context.Context, interactionID string, timeout time.Duration) (InteractionAnswer, error) {
	s.mu.RLock()
	p, ok := s.pending[interactionID]
	s.mu.RUnlock()
	if !ok {
		return InteractionAnswer{}, errs.New(errs.InvalidInput, "unknown interaction id: "+interactionID)
	}

	if timeout <= 0 {
		timeout = s.timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case answer := <-p.response:
		s.remove(interactionID)
		return answer, nil
	case <-timeoutCtx.Done():
		s.remove(interactionID)
		if ctx.Err() != nil {
			return InteractionAnswer{}, errs.Wrap(errs.Cancelled, "interaction wait cancelled", ctx.Err())
		}
		return InteractionAnswer{TimedOut: true}, errs.New(errs.UserInteractionTimeout, "timed out waiting for "+interactionID)
	}
}

// ProvideResponse validates value against the interaction's InputType and
// delivers it to the waiting WaitForResponse call. A choice value outside
// the option list, or a non-boolean confirmation value, is coerced per the
// documented validation rule rather than rejected.
func (s *interactionStore) ProvideResponse(interactionID string, value interface{}) error {
	s.mu.RLock()
	p, ok := s.pending[interactionID]
	s.mu.RUnlock()
	if !ok {
		return errs.New(errs.InvalidInput, "unknown interaction id: "+interactionID)
	}

	validated := validate(p.request, value)

	select {
	case p.response <- InteractionAnswer{Value: validated, Timestamp: time.Now()}:
		return nil
	default:
		return errs.New(errs.InvalidInput, fmt.Sprintf("response already submitted for %s", interactionID))
	}
}

func validate(req InteractionRequest, value interface{}) interface{} {
	switch req.InputType {
	case InputChoice:
		s, ok := value.(string)
		if !ok {
			return ""
		}
		for _, opt := range req.Options {
			if opt == s {
				return s
			}
		}
		return ""
	case InputConfirmation:
		b, ok := value.(bool)
		if !ok {
			return false
		}
		return b
	default:
		return value
	}
}

func (s *interactionStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// CancelAllFor rejects every pending interaction belonging to conversationID,
// used when a conversation finalizes with interactions still outstanding.
func (s *interactionStore) CancelAllFor(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		if p.request.ConversationID != conversationID {
			continue
		}
		select {
		case p.response <- InteractionAnswer{TimedOut: true}:
		default:
		}
		delete(s.pending, id)
	}
}
