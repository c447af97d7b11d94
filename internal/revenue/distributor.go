package revenue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"skillzio/internal/order"
	"skillzio/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInstructorUnresolved = errors.New("instructor could not be resolved")
	ErrPriceUnresolved      = errors.New("course price could not be resolved")
	ErrInvalidShare         = errors.New("instructor share must be between 0 and 1")
)

// DefaultInstructorShare is the fraction of a course price paid to its instructor.
var DefaultInstructorShare = decimal.RequireFromString("0.90")

type Wallets interface {
	Credit(ctx context.Context, owner uuid.UUID, role wallet.Role, amount int64, description, externalTxnID string) (wallet.Wallet, error)
}

type AdminResolver interface {
	PlatformAccount(ctx context.Context) (uuid.UUID, error)
}

type Config struct {
	// InstructorShare defaults to DefaultInstructorShare when not valid.
	// A valid zero pays the whole price to the platform.
	InstructorShare decimal.NullDecimal
}

type Result struct {
	CourseID        uuid.UUID `json:"course_id"`
	InstructorID    uuid.UUID `json:"instructor_id"`
	Price           int64     `json:"price"`
	InstructorShare int64     `json:"instructor_share"`
	PlatformShare   int64     `json:"platform_share"`
	Err             error     `json:"-"`
}

type Report struct {
	OrderID         uuid.UUID `json:"order_id"`
	PlatformAccount uuid.UUID `json:"platform_account"`
	Results         []Result  `json:"results"`
}

func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

func (r Report) Totals() (instructor, platform int64) {
	for _, res := range r.Results {
		if res.Err == nil {
			instructor += res.InstructorShare
			platform += res.PlatformShare
		}
	}
	return instructor, platform
}

type Distributor struct {
	wallets Wallets
	admin   AdminResolver
	share   decimal.Decimal
	logger  *slog.Logger
}

func NewDistributor(wallets Wallets, admin AdminResolver, cfg Config, logger *slog.Logger) (*Distributor, error) {
	share := DefaultInstructorShare
	if cfg.InstructorShare.Valid {
		share = cfg.InstructorShare.Decimal
	}
	if share.IsNegative() || share.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShare, share)
	}
	return &Distributor{
		wallets: wallets,
		admin:   admin,
		share:   share,
		logger:  logger,
	}, nil
}

// Split divides price into the instructor's and the platform's part. The
// instructor share is rounded down so the two parts always sum to price.
func (d *Distributor) Split(price int64) (instructor, platform int64) {
	instructor = decimal.NewFromInt(price).Mul(d.share).Floor().IntPart()
	return instructor, price - instructor
}

// Distribute credits every course of o to its instructor and the platform,
// splitting the price stored on the order. Each course is settled on its own:
// a failure is recorded in the report and the loop moves on. Credits are keyed
// by externalTxnID and the course, so running Distribute again for the same
// order does not pay twice.
func (d *Distributor) Distribute(ctx context.Context, o order.Order, instructors map[uuid.UUID]uuid.UUID, externalTxnID string) Report {
	report := Report{OrderID: o.ID, Results: make([]Result, 0, len(o.CourseIDs))}

	platform, err := d.admin.PlatformAccount(ctx)
	if err != nil {
		d.logger.Error("platform account unresolved, distribution skipped", "order_id", o.ID, "err", err)
		for _, course := range o.CourseIDs {
			report.Results = append(report.Results, Result{CourseID: course, Err: fmt.Errorf("resolve platform account: %w", err)})
		}
		return report
	}
	report.PlatformAccount = platform

	for _, course := range o.CourseIDs {
		res := d.distributeCourse(ctx, o, course, instructors, platform, externalTxnID)
		if res.Err != nil {
			d.logger.Warn("revenue distribution failed for course", "order_id", o.ID, "course_id", course, "err", res.Err)
		}
		report.Results = append(report.Results, res)
	}

	instructorTotal, platformTotal := report.Totals()
	d.logger.Info("revenue distributed", "order_id", o.ID, "instructor_total", instructorTotal, "platform_total", platformTotal, "failed", len(report.Failed()))
	return report
}

func (d *Distributor) distributeCourse(ctx context.Context, o order.Order, course uuid.UUID, instructors map[uuid.UUID]uuid.UUID, platform uuid.UUID, externalTxnID string) Result {
	res := Result{CourseID: course}

	instructor, ok := instructors[course]
	if !ok || instructor == uuid.Nil {
		res.Err = ErrInstructorUnresolved
		return res
	}
	res.InstructorID = instructor

	price, ok := o.Price(course)
	if !ok || price < 0 {
		res.Err = ErrPriceUnresolved
		return res
	}
	res.Price = price
	res.InstructorShare, res.PlatformShare = d.Split(price)

	key := externalTxnID + ":" + course.String()
	if res.InstructorShare > 0 {
		desc := fmt.Sprintf("course sale %s (order %s)", course, o.ID)
		if _, err := d.wallets.Credit(ctx, instructor, wallet.RoleInstructor, res.InstructorShare, desc, key); err != nil {
			res.Err = fmt.Errorf("credit instructor %s: %w", instructor, err)
			return res
		}
	}
	if res.PlatformShare > 0 {
		desc := fmt.Sprintf("platform fee %s (order %s)", course, o.ID)
		if _, err := d.wallets.Credit(ctx, platform, wallet.RoleAdmin, res.PlatformShare, desc, key); err != nil {
			res.Err = fmt.Errorf("credit platform %s: %w", platform, err)
			return res
		}
	}
	return res
}
