package etfcli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ideal-lab5/etf-cli/common/log"
	slothttp "github.com/ideal-lab5/etf-cli/internal/http"
	"github.com/ideal-lab5/etf-cli/internal/metrics"
	"github.com/ideal-lab5/etf-cli/internal/store/s3"
)

func serveCmd(c *cli.Context, l log.Logger) error {
	a, s, err := loadAuthority(c)
	if err != nil {
		return err
	}

	opts := []slothttp.Option{slothttp.WithLogger(l)}
	if c.IsSet(accessLogFlag.Name) {
		f, err := os.OpenFile(c.String(accessLogFlag.Name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening access log: %w", err)
		}
		defer f.Close()
		opts = append(opts, slothttp.WithAccessLog(f))
	}
	if c.IsSet(metricsFlag.Name) {
		if ml := metrics.Start(l, c.String(metricsFlag.Name)); ml != nil {
			defer ml.Close()
		}
		opts = append(opts, slothttp.WithMetrics())
	}

	srv, err := slothttp.New(a, s, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Serving slot keys on %s, info hash %s\n", c.String(listenFlag.Name), srv.Info().HashString())

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, c.String(listenFlag.Name))
}

func publishCmd(c *cli.Context, l log.Logger) error {
	if !c.IsSet(bucketFlag.Name) {
		return fmt.Errorf("missing --%s", bucketFlag.Name)
	}
	b, id, err := loadBundle(c, l)
	if err != nil {
		return err
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	upr, err := s3.NewUploader(c.String(regionFlag.Name))
	if err != nil {
		return err
	}
	p, err := s3.NewPublisher(l, upr, c.String(bucketFlag.Name), c.String(bucketPrefixFlag.Name), c.String(aclFlag.Name))
	if err != nil {
		return err
	}
	loc, err := p.Publish(c.Context, id, b)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", id, loc)
	return nil
}
