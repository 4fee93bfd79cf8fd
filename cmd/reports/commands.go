package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lzyats/airship-go/pkg/airship"
	"github.com/lzyats/airship-go/pkg/reports"
	redisstore "github.com/lzyats/airship-go/pkg/store/redis"
)

// timeLayouts are accepted by --start and --end, all read as UTC.
var timeLayouts = []string{
	reports.TimeFormat,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "airship-reports",
		Short:         "Fetch Airship per-push reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	bindGlobalFlags(root)

	root.AddCommand(detailCommand())
	root.AddCommand(batchCommand())
	root.AddCommand(seriesCommand())
	root.AddCommand(enqueueCommand())
	root.AddCommand(snapshotCommand())
	return root
}

// client builds the per-push client from the resolved settings.
func client(cmd *cobra.Command) (*reports.PerPush, error) {
	st, v, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	conn, err := airship.New(st.Airship, airship.WithLogger(newLogger(v)))
	if err != nil {
		return nil, err
	}
	return reports.NewPerPush(conn), nil
}

func store(cmd *cobra.Command) (*redisstore.Store, error) {
	st, _, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	if st.Redis.Enabled != "Y" {
		return nil, fmt.Errorf("redis: set --redis-host or redis.enabled in config: %w", airship.ErrNotConfigured)
	}
	return redisstore.New(st.Redis, st.Collector)
}

func detailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detail <push_id>",
		Short: "Print the detail report of one push",
		Args:  exactArgs("detail", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			d, err := c.GetSingle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
}

func batchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <push_id>...",
		Short: fmt.Sprintf("Print detail reports of up to %d pushes in one request", airship.MaxBatchSize),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client(cmd)
			if err != nil {
				return err
			}
			ds, err := c.GetBatch(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ds)
		},
	}
}

func seriesCommand() *cobra.Command {
	var precision, start, end string

	cmd := &cobra.Command{
		Use:   "series <push_id>",
		Short: "Print the time series of one push",
		Args:  exactArgs("series", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if precision == "" && (start != "" || end != "") {
				return airship.ValidationError("series", "--start and --end require --precision")
			}
			if (start == "") != (end == "") {
				return airship.ValidationError("series", "--start and --end must be given together")
			}
			var (
				p        reports.Precision
				from, to time.Time
				err      error
			)
			if precision != "" {
				if p, err = reports.ParsePrecision(strings.ToUpper(precision)); err != nil {
					return err
				}
			}
			if start != "" {
				if from, err = parseTime("start", start); err != nil {
					return err
				}
				if to, err = parseTime("end", end); err != nil {
					return err
				}
			}

			c, err := client(cmd)
			if err != nil {
				return err
			}
			var s *reports.Series
			switch {
			case p == "":
				s, err = c.Get(cmd.Context(), args[0])
			case from.IsZero():
				s, err = c.GetWithPrecision(cmd.Context(), args[0], p)
			default:
				s, err = c.GetWithPrecisionAndRange(cmd.Context(), args[0], p, from, to)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	cmd.Flags().StringVar(&precision, "precision", "", "HOURLY, DAILY or MONTHLY")
	cmd.Flags().StringVar(&start, "start", "", "range start, e.g. \"2015-12-25 00:00:00\" (UTC)")
	cmd.Flags().StringVar(&end, "end", "", "range end (UTC)")
	return cmd
}

func enqueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <push_id>...",
		Short: "Queue push ids for the collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return airship.ValidationError("enqueue", "at least one push id is required")
			}
			for _, id := range args {
				if strings.TrimSpace(id) == "" {
					return airship.ValidationError("enqueue", "push id must not be empty")
				}
			}
			s, err := store(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Enqueue(cmd.Context(), args...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d push id(s)\n", len(args))
			return nil
		},
	}
}

func snapshotCommand() *cobra.Command {
	var precision string

	cmd := &cobra.Command{
		Use:   "snapshot <push_id>",
		Short: "Print the collector's stored report for a push",
		Long:  "Prints the stored detail report, or the stored series when --precision is set.",
		Args:  exactArgs("snapshot", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p reports.Precision
			if precision != "" {
				var err error
				if p, err = reports.ParsePrecision(strings.ToUpper(precision)); err != nil {
					return err
				}
			}
			s, err := store(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				b  []byte
				ok bool
			)
			if p == "" {
				b, ok, err = s.GetDetail(cmd.Context(), args[0])
			} else {
				b, ok, err = s.GetSeries(cmd.Context(), args[0], p.String())
			}
			if err != nil {
				return err
			}
			if !ok {
				return &airship.Error{Kind: airship.ErrNotFound, Op: "snapshot", Message: "no snapshot for " + args[0]}
			}
			return printRaw(cmd.OutOrStdout(), b)
		},
	}

	cmd.Flags().StringVar(&precision, "precision", "", "series precision; omit for the detail snapshot")
	return cmd
}

func exactArgs(op string, n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return airship.ValidationError(op, "expected %d argument(s), got %d", n, len(args))
		}
		return nil
	}
}

func parseTime(name, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, airship.ValidationError("series", "invalid --%s %q, want %q", name, s, reports.TimeFormat)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return printRaw(w, b)
}

func printRaw(w io.Writer, b []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}
