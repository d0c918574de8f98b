// Command cart-admin runs maintenance tasks against the cart database and
// promo code lists.
//
//	cart-admin migrate
//	cart-admin prune -older-than 720h
//	cart-admin snapshot -session <id>
//	cart-admin promo -files a.gz,b.gz -min-sources 2 CODE...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/foodcart/internal/domain/cart"
	"github.com/xenking/foodcart/internal/promo"
	"github.com/xenking/foodcart/internal/storage/postgres"
)

func main() {
	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		lg.Error("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cart-admin <migrate|prune|snapshot|promo> [flags]")
}

func run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "migrate":
		return migrate(ctx, args)
	case "prune":
		return prune(ctx, args)
	case "snapshot":
		return snapshot(ctx, args)
	case "promo":
		return checkPromo(ctx, args)
	default:
		usage()
		return errors.Errorf("unknown command %q", cmd)
	}
}

func databaseFlag(fs *flag.FlagSet) *string {
	return fs.String("database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
}

func connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, errors.New("database URL is required: set -database-url or DATABASE_URL")
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	return pool, nil
}

func migrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	databaseURL := databaseFlag(fs)
	_ = fs.Parse(args)

	pool, err := connect(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}
	zctx.From(ctx).Info("Migrations applied")
	return nil
}

func prune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	databaseURL := databaseFlag(fs)
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "delete carts not written for this long")
	_ = fs.Parse(args)

	if *olderThan <= 0 {
		return errors.New("older-than must be positive")
	}

	pool, err := connect(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := postgres.NewStorage(pool).DeleteStale(ctx, time.Now().Add(-*olderThan))
	if err != nil {
		return err
	}
	zctx.From(ctx).Info("Pruned stale carts",
		zap.Int64("rows", n),
		zap.Duration("older_than", *olderThan),
	)
	return nil
}

func snapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	databaseURL := databaseFlag(fs)
	sessionID := fs.String("session", "", "cart session id")
	_ = fs.Parse(args)

	if *sessionID == "" {
		return errors.New("session is required")
	}

	pool, err := connect(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	rec, err := postgres.NewSnapshotWriter(pool).Get(ctx, *sessionID)
	if errors.Is(err, cart.ErrNotFound) {
		return errors.Errorf("no snapshot of session %s", *sessionID)
	}
	if err != nil {
		return err
	}

	t := rec.Totals
	fmt.Printf("session:      %s\n", rec.SessionID)
	fmt.Printf("restaurant:   %s\n", deref(rec.RestaurantID))
	fmt.Printf("promo code:   %s\n", deref(rec.PromoCode))
	fmt.Printf("last event:   %s\n", rec.LastEvent)
	fmt.Printf("items:        %d\n", t.ItemCount)
	fmt.Printf("subtotal:     %s\n", t.Subtotal.StringFixed(2))
	fmt.Printf("tax:          %s\n", t.Tax.StringFixed(2))
	fmt.Printf("delivery fee: %s\n", t.DeliveryFee.StringFixed(2))
	fmt.Printf("discount:     %s\n", t.Discount.StringFixed(2))
	fmt.Printf("total:        %s\n", t.Total.StringFixed(2))
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func checkPromo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("promo", flag.ExitOnError)
	files := fs.String("files", "", "comma-separated gzipped promo code lists")
	minSources := fs.Int("min-sources", 1, "lists a code must appear in")
	capacity := fs.Uint("capacity", 1_000_000, "expected codes per list")
	minLen := fs.Int("min-length", 0, "shortest accepted code")
	maxLen := fs.Int("max-length", 0, "longest accepted code")
	_ = fs.Parse(args)

	if *files == "" {
		return errors.New("files is required")
	}

	f, err := promo.Load(ctx, promo.Config{
		Files:      strings.Split(*files, ","),
		MinSources: *minSources,
		Capacity:   *capacity,
		MinLength:  *minLen,
		MaxLength:  *maxLen,
	})
	if err != nil {
		return err
	}
	fmt.Printf("codes: %d\n", f.Len())

	for _, code := range fs.Args() {
		verdict := "rejected"
		if f.MayContain(code) {
			verdict = "may be valid"
		}
		fmt.Printf("%s: %s\n", promo.Normalize(code), verdict)
	}
	return nil
}
