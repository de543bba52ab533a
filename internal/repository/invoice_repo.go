package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohsenfayyazi/billder/internal/model"
	"github.com/mohsenfayyazi/billder/internal/services"
)

type InvoiceRepository struct {
	DB *pgxpool.Pool
}

func NewInvoiceRepository(db *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{DB: db}
}

const invoiceColumns = `invoiceid, reference, ownerid, customerid, currency,
	totalamount, amountpaid, status, duedate, publicslug, created_at, updated_at`

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	var inv model.Invoice
	err := row.Scan(
		&inv.InvoiceID, &inv.Reference, &inv.OwnerID, &inv.CustomerID,
		&inv.Currency, &inv.TotalAmount, &inv.AmountPaid, &inv.Status,
		&inv.DueDate, &inv.PublicSlug, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *model.Invoice) (int64, error) {
	var id int64
	q := `
		INSERT INTO invoices
			(reference, ownerid, customerid, currency, totalamount, amountpaid,
			 status, duedate, publicslug, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, 0, $6, $7, $8, NOW(), NOW())
		RETURNING invoiceid
	`
	err := r.DB.QueryRow(ctx, q,
		inv.Reference, inv.OwnerID, inv.CustomerID, inv.Currency,
		inv.TotalAmount, inv.Status, inv.DueDate, inv.PublicSlug,
	).Scan(&id)
	return id, err
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoiceid=$1`
	return scanInvoice(r.DB.QueryRow(ctx, q, id))
}

func (r *InvoiceRepository) GetBySlug(ctx context.Context, slug string) (*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE publicslug=$1`
	return scanInvoice(r.DB.QueryRow(ctx, q, slug))
}

func (r *InvoiceRepository) List(ctx context.Context, f services.InvoiceFilter) ([]model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []interface{}{}

	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		q += fmt.Sprintf(" AND ownerid=$%d", len(args))
	}
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		q += fmt.Sprintf(" AND customerid=$%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if f.Currency != "" {
		args = append(args, f.Currency)
		q += fmt.Sprintf(" AND currency=$%d", len(args))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (r *InvoiceRepository) CountCreatedInMonth(ctx context.Context, year int, month time.Month) (int64, error) {
	var count int64
	q := `
		SELECT COUNT(*) FROM invoices
		WHERE EXTRACT(YEAR FROM created_at)=$1 AND EXTRACT(MONTH FROM created_at)=$2
	`
	err := r.DB.QueryRow(ctx, q, year, int(month)).Scan(&count)
	return count, err
}

func (r *InvoiceRepository) Totals(ctx context.Context, ownerID int64) (*services.InvoiceTotals, error) {
	var t services.InvoiceTotals
	q := `
		SELECT COALESCE(SUM(totalamount),0), COALESCE(SUM(amountpaid),0)
		FROM invoices
		WHERE ownerid=$1
	`
	if err := r.DB.QueryRow(ctx, q, ownerID).Scan(&t.TotalAmount, &t.TotalPaid); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *InvoiceRepository) CustomerStats(ctx context.Context, ownerID int64) (*services.CustomerStats, error) {
	var s services.CustomerStats
	q := `
		SELECT COUNT(DISTINCT customerid),
		       COUNT(DISTINCT customerid) FILTER (WHERE totalamount > amountpaid)
		FROM invoices
		WHERE ownerid=$1
	`
	if err := r.DB.QueryRow(ctx, q, ownerID).Scan(&s.TotalCustomers, &s.CustomersWithBalance); err != nil {
		return nil, err
	}
	return &s, nil
}
