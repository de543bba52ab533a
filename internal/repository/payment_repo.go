package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohsenfayyazi/billder/internal/model"
	"github.com/mohsenfayyazi/billder/internal/services"
)

type PaymentRepository struct {
	DB *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{DB: db}
}

const paymentColumns = `paymentid, invoiceid, amount, currency, status, provider, method,
	externalpaymentid, externalchargeid, externalrefundid, clientsecret, description,
	refundamount, refundstatus, refundedat, created_at, updated_at, processedat`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.PaymentID, &p.InvoiceID, &p.Amount, &p.Currency, &p.Status,
		&p.Provider, &p.Method, &p.ExternalPaymentID, &p.ExternalChargeID,
		&p.ExternalRefundID, &p.ClientSecret, &p.Description,
		&p.RefundAmount, &p.RefundStatus, &p.RefundedAt,
		&p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) CreatePending(ctx context.Context, p *model.Payment) (int64, error) {
	var id int64
	q := `
		INSERT INTO payments
			(invoiceid, amount, currency, status, provider, method,
			 externalpaymentid, clientsecret, description, created_at, updated_at)
		VALUES
			($1, $2, $3, 'pending', $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING paymentid
	`
	err := r.DB.QueryRow(ctx, q,
		p.InvoiceID, p.Amount, p.Currency, p.Provider, p.Method,
		p.ExternalPaymentID, p.ClientSecret, p.Description,
	).Scan(&id)
	return id, err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE paymentid=$1`
	return scanPayment(r.DB.QueryRow(ctx, q, id))
}

func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE externalpaymentid=$1`
	return scanPayment(r.DB.QueryRow(ctx, q, externalID))
}

func (r *PaymentRepository) List(ctx context.Context, f services.PaymentFilter) ([]model.Payment, error) {
	q := `
		SELECT p.paymentid, p.invoiceid, p.amount, p.currency, p.status, p.provider, p.method,
		       p.externalpaymentid, p.externalchargeid, p.externalrefundid, p.clientsecret, p.description,
		       p.refundamount, p.refundstatus, p.refundedat, p.created_at, p.updated_at, p.processedat
		FROM payments p
		JOIN invoices i ON i.invoiceid = p.invoiceid
		WHERE 1=1`
	args := []interface{}{}

	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		q += fmt.Sprintf(" AND i.ownerid=$%d", len(args))
	}
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		q += fmt.Sprintf(" AND i.customerid=$%d", len(args))
	}
	if f.InvoiceID != nil {
		args = append(args, *f.InvoiceID)
		q += fmt.Sprintf(" AND p.invoiceid=$%d", len(args))
	}
	if f.RefundsOnly {
		q += " AND p.refundstatus IS NOT NULL"
	}
	q += ` ORDER BY p.created_at DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PaymentRepository) SumOpenAmount(ctx context.Context, invoiceID int64) (int64, error) {
	var sum int64
	q := `
		SELECT COALESCE(SUM(amount),0) FROM payments
		WHERE invoiceid=$1 AND status IN ('pending','processing')
	`
	err := r.DB.QueryRow(ctx, q, invoiceID).Scan(&sum)
	return sum, err
}

func (r *PaymentRepository) MarkProcessing(ctx context.Context, paymentID int64) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE payments
		SET status='processing', updated_at=NOW()
		WHERE paymentid=$1 AND status='pending'
	`, paymentID)
	return err
}

func (r *PaymentRepository) MarkFailed(ctx context.Context, externalID string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE payments
		SET status='failed', updated_at=NOW()
		WHERE externalpaymentid=$1 AND status IN ('pending','processing')
	`, externalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PaymentRepository) MarkCanceled(ctx context.Context, externalID string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE payments
		SET status='canceled', updated_at=NOW()
		WHERE externalpaymentid=$1 AND status IN ('pending','processing')
	`, externalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Settle moves a payment into succeeded and reflects the amount onto the
// parent invoice, in one transaction. The invoice row is locked first so
// concurrent settlements and refunds against the same invoice serialize; the
// status guard on the payment UPDATE makes duplicate deliveries a no-op.
func (r *PaymentRepository) Settle(ctx context.Context, externalID, chargeID string) (*model.Payment, bool, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var paymentID, invoiceID, amount int64
	err = tx.QueryRow(ctx, `
		SELECT paymentid, invoiceid, amount FROM payments WHERE externalpaymentid=$1
	`, externalID).Scan(&paymentID, &invoiceID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := tx.Exec(ctx, `
		SELECT invoiceid FROM invoices WHERE invoiceid=$1 FOR UPDATE
	`, invoiceID); err != nil {
		return nil, false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status='succeeded',
		    externalchargeid=NULLIF($2,''),
		    processedat=NOW(),
		    updated_at=NOW()
		WHERE paymentid=$1 AND status IN ('pending','processing')
	`, paymentID, chargeID)
	if err != nil {
		return nil, false, err
	}

	settled := tag.RowsAffected() > 0
	if settled {
		if _, err := tx.Exec(ctx, `
			UPDATE invoices
			SET amountpaid = amountpaid + $2,
			    status = CASE WHEN amountpaid + $2 >= totalamount THEN 'paid' ELSE status END,
			    updated_at = NOW()
			WHERE invoiceid=$1
		`, invoiceID, amount); err != nil {
			return nil, false, err
		}
	}

	payment, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE paymentid=$1`, paymentID))
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return payment, settled, nil
}

// ApplyRefund annotates a succeeded payment with refund details and walks the
// invoice's amount_paid and status back, atomically against a locked invoice
// row. The caller has already cleared the refund with the provider.
func (r *PaymentRepository) ApplyRefund(ctx context.Context, paymentID, amount int64, refundID string) (*model.Payment, *model.Invoice, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	var invoiceID, paymentAmount int64
	err = tx.QueryRow(ctx, `
		SELECT invoiceid, amount FROM payments WHERE paymentid=$1
	`, paymentID).Scan(&invoiceID, &paymentAmount)
	if err != nil {
		return nil, nil, err
	}

	var amountPaid, totalAmount int64
	err = tx.QueryRow(ctx, `
		SELECT amountpaid, totalamount FROM invoices WHERE invoiceid=$1 FOR UPDATE
	`, invoiceID).Scan(&amountPaid, &totalAmount)
	if err != nil {
		return nil, nil, err
	}

	// A full refund moves the payment itself to refunded; a partial refund
	// leaves it succeeded with the refund annotation.
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET refundamount=$2,
		    refundstatus='succeeded',
		    externalrefundid=$3,
		    refundedat=NOW(),
		    status = CASE WHEN $2 >= amount THEN 'refunded' ELSE status END,
		    updated_at=NOW()
		WHERE paymentid=$1 AND status='succeeded'
	`, paymentID, amount, refundID)
	if err != nil {
		return nil, nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, nil, errors.New("payment is not in succeeded status")
	}

	newPaid := amountPaid - amount
	status := model.InvoiceStatusPaid
	if newPaid <= 0 {
		status = model.InvoiceStatusPending
	} else if newPaid < totalAmount {
		status = model.InvoiceStatusPartiallyPaid
	}

	if _, err := tx.Exec(ctx, `
		UPDATE invoices
		SET amountpaid=$2, status=$3, updated_at=NOW()
		WHERE invoiceid=$1
	`, invoiceID, newPaid, status); err != nil {
		return nil, nil, err
	}

	payment, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE paymentid=$1`, paymentID))
	if err != nil {
		return nil, nil, err
	}
	invoice, err := scanInvoice(tx.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE invoiceid=$1`, invoiceID))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return payment, invoice, nil
}
