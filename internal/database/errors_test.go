package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorClassSerialization, ClassifyError(&pq.Error{Code: "40001"}))
	assert.Equal(t, ErrorClassDeadlock, ClassifyError(&pq.Error{Code: "40P01"}))
	assert.Equal(t, ErrorClassTransient, ClassifyError(fmt.Errorf("lock: %w", &pq.Error{Code: "55P03"})))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(&pq.Error{Code: "23505"}))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(sql.ErrNoRows))
	assert.Equal(t, ErrorClassPermanent, ClassifyError(nil))

	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23503"}))
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"eof", fmt.Errorf("read: %w", io.EOF), true},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"reset", syscall.ECONNRESET, true},
		{"connection exception", &pq.Error{Code: "08006"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"unique violation", &pq.Error{Code: "23505", Message: "duplicate key"}, false},
		{"message substring", errors.New("TypeError: Network request failed"), true},
		{"fetch failed", errors.New("fetch failed"), true},
		{"validation", errors.New("name is required"), false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkError(tt.err))
		})
	}
}

func TestIsConstraintViolation(t *testing.T) {
	assert.True(t, IsConstraintViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsConstraintViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23514"})))
	assert.False(t, IsConstraintViolation(&pq.Error{Code: "40001"}))
	assert.False(t, IsConstraintViolation(errors.New("boom")))
}

func TestIsForeignKeyViolation(t *testing.T) {
	err := fmt.Errorf("delete shop: %w", &pq.Error{Code: "23503", Constraint: "orders_shop_id_fkey"})
	assert.True(t, IsForeignKeyViolation(err, "orders_shop_id_fkey"))
	assert.False(t, IsForeignKeyViolation(err, "order_items_product_id_fkey"))
	assert.False(t, IsForeignKeyViolation(&pq.Error{Code: "23505", Constraint: "orders_shop_id_fkey"}, "orders_shop_id_fkey"))
	assert.False(t, IsForeignKeyViolation(errors.New("boom"), "orders_shop_id_fkey"))
}
