package workflow

import (
	"errors"
	"strings"

	"github.com/sekura/tollops_backend/models"
)

// Idempotency operations. A token is unique within (operation, target) only,
// so the same form token used at two sites books two movements.
const (
	scopeCycleClose     = "cycle.close"
	scopeStockApply     = "stock.apply"
	scopeTransferCreate = "transfer.create"
)

// idempotencyScope ties an operation to the key it mutates, e.g.
// "stock.apply|TP02|OIL".
func idempotencyScope(op string, target ...string) string {
	return op + "|" + strings.Join(target, "|")
}

// tokenMismatch reports a stored result that does not belong to the request
// replaying it.
func tokenMismatch(token, want, got string) error {
	return &models.FormatError{
		Field:  "idempotency_token",
		Input:  strings.TrimSpace(token),
		Reason: "token already used for " + got + ", not " + want,
	}
}

// priorResult returns the result reference stored for (scope, token).
// found is false for a first submission or when no token was supplied.
func priorResult(tx models.Tx, scope, token string) (ref string, found bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false, nil
	}
	key, err := tx.GetIdempotencyKey(scope, token)
	if err != nil {
		if models.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return key.ResultRef, true, nil
}

// rememberResult stores the result of a submission in the same transaction as
// the mutation, so a retry after a lost commit acknowledgement replays it.
func rememberResult(tx models.Tx, scope, token, resultRef, actor string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	err := tx.InsertIdempotencyKey(&models.IdempotencyKey{
		Scope:     scope,
		Token:     token,
		ResultRef: resultRef,
		Actor:     actor,
	})
	if errors.Is(err, models.ErrDuplicateKey) {
		// another instance committed the same token first
		return &models.ConcurrentModificationError{Entity: "submission", Key: scope + ":" + token}
	}
	return err
}
