package land

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/value"
)

// HandleAction runs a request/response action for a joined session.
// Resolvers execute concurrently outside the serial boundary; only the
// handler body is serialized with the rest of the Land's work.
func (k *Keeper) HandleAction(ctx context.Context, session PlayerSession, name string, payload value.Value) (value.Value, error) {
	handler, ok := k.def.ActionHandler(name)
	if !ok {
		return value.Null(), NewError(CodeActionNotRegistered, "unknown action").WithDetail("action", name)
	}

	resolved, err := k.runResolvers(ctx, session)
	if err != nil {
		return value.Null(), WrapError(CodeActionHandlerError, "resolver failed", err).WithDetail("action", name)
	}

	var result value.Value
	err = k.invoke(ctx, func() error {
		if _, attached := k.sessionOwner[session.SessionID]; !attached {
			return NewError(CodeJoinRoomNotFound, "session is not attached to this land")
		}
		invocationCtx := k.newContext(ctx, session, k.lastCommittedTickID)
		invocationCtx.resolved = resolved

		var handlerErr error
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					handlerErr = NewError(CodeActionHandlerError, "action handler panicked").
						WithDetail("panic", describePanic(recovered))
					k.logger.Error("action handler panicked",
						logging.String("action", name),
						logging.String("panic", describePanic(recovered)))
				}
			}()
			result, handlerErr = handler(invocationCtx, k.state, payload)
		}()
		if handlerErr != nil {
			var coded *Error
			if errors.As(handlerErr, &coded) {
				return coded
			}
			return WrapError(CodeActionHandlerError, "action handler failed", handlerErr).
				WithDetail("action", name)
		}
		return nil
	})
	if err != nil {
		return value.Null(), err
	}
	return result, nil
}

// HandleClientEvent runs every handler bound to a fire-and-forget event.
// Identifiers outside the allowed set are dropped silently; handler errors
// are logged and swallowed, never surfaced to the sender.
func (k *Keeper) HandleClientEvent(ctx context.Context, session PlayerSession, name string, payload value.Value) error {
	if !k.def.EventAllowed(name) {
		k.logger.Debug("dropping disallowed client event",
			logging.String("event", name),
			logging.String("player_id", session.PlayerID))
		return nil
	}
	handlers := k.def.EventHandlers(name)
	if len(handlers) == 0 {
		return nil
	}

	resolved, err := k.runResolvers(ctx, session)
	if err != nil {
		k.logger.Error("event resolver failed",
			logging.String("event", name), logging.Error(err))
		return nil
	}

	return k.invoke(ctx, func() error {
		if _, attached := k.sessionOwner[session.SessionID]; !attached {
			return nil
		}
		invocationCtx := k.newContext(ctx, session, k.lastCommittedTickID)
		invocationCtx.resolved = resolved

		//1.- All handlers run even when an earlier one fails.
		for _, handler := range handlers {
			func() {
				defer func() {
					if recovered := recover(); recovered != nil {
						k.logger.Error("event handler panicked",
							logging.String("event", name),
							logging.String("panic", describePanic(recovered)))
					}
				}()
				if err := handler(invocationCtx, k.state, payload); err != nil {
					k.logger.Error("event handler failed",
						logging.String("event", name), logging.Error(err))
				}
			}()
		}
		return nil
	})
}

// runResolvers loads every registered dependency concurrently before the
// handler body enters the boundary.
func (k *Keeper) runResolvers(ctx context.Context, session PlayerSession) (map[string]any, error) {
	resolvers := k.def.Resolvers()
	if len(resolvers) == 0 {
		return nil, nil
	}
	resolved := make(map[string]any, len(resolvers))
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for name, resolver := range resolvers {
		name, resolver := name, resolver
		group.Go(func() error {
			output, err := resolver(groupCtx, session)
			if err != nil {
				return fmt.Errorf("resolver %q: %w", name, err)
			}
			mu.Lock()
			resolved[name] = output
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func describePanic(recovered any) string {
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
