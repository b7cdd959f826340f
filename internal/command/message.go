package command

import (
	"context"
	"errors"
	"strings"

	"github.com/pavelanni/qbank/internal/answerkey"
	"github.com/pavelanni/qbank/internal/engine"
	"github.com/pavelanni/qbank/internal/i18n"
	"github.com/pavelanni/qbank/internal/store"
)

// Message flattens err into a localized message for the caller. The
// language comes from the localizer stored in ctx.
func Message(ctx context.Context, err error) string {
	if err == nil {
		return ""
	}
	detail := func() map[string]any { return map[string]any{"Detail": err.Error()} }

	var (
		unknown   *UnknownCommandError
		solve     *answerkey.SolveError
		transport *engine.TransportError
		exit      *engine.ExitError
		storeErr  *store.Error
	)
	switch {
	case errors.As(err, &unknown):
		return i18n.Td(ctx, "ErrUnknownCommand", map[string]any{"Command": unknown.Name})
	case errors.Is(err, ErrBadRequest):
		return i18n.Td(ctx, "ErrBadRequest", detail())
	case errors.Is(err, answerkey.ErrEmptyTest):
		return i18n.T(ctx, "ErrEmptyTest")
	case errors.As(err, &solve):
		return i18n.Td(ctx, "ErrSolveFailed", map[string]any{"Detail": solve.Diagnostic})
	case errors.As(err, &exit):
		return i18n.Td(ctx, "ErrEngine", map[string]any{"Detail": strings.TrimSpace(exit.Stderr)})
	case errors.As(err, &transport), errors.Is(err, errNoEngine):
		return i18n.Td(ctx, "ErrEngine", detail())
	case errors.Is(err, store.ErrLockPoisoned):
		return i18n.T(ctx, "ErrLockPoisoned")
	case errors.Is(err, store.ErrSealed):
		return i18n.T(ctx, "ErrSealed")
	case errors.Is(err, store.ErrNotFound):
		return i18n.T(ctx, "ErrNotFound")
	case errors.Is(err, store.ErrDuplicate):
		if errors.As(err, &storeErr) && strings.Contains(storeErr.Op, "student") {
			return i18n.T(ctx, "ErrDuplicateStudent")
		}
		return i18n.T(ctx, "ErrDuplicate")
	case errors.Is(err, store.ErrInvalid):
		return i18n.Td(ctx, "ErrInvalid", detail())
	case errors.As(err, &storeErr):
		return i18n.Td(ctx, "ErrStorage", detail())
	default:
		return i18n.Td(ctx, "ErrInternal", detail())
	}
}
