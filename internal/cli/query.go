package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/logstore/internal/record"
	"github.com/roach88/logstore/internal/store"
)

// queryFlags are the replay selection flags shared by replay and export.
type queryFlags struct {
	Stream      string
	Start       string
	End         string
	EntityRef   string
	Classifiers []string
}

func (q *queryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.Stream, "stream", "", "stream to replay: signals|emissions (required)")
	cmd.Flags().StringVar(&q.Start, "start", "", "window start, inclusive: YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVar(&q.End, "end", "", "window end, exclusive: YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVar(&q.EntityRef, "entity", "", "only records for this entity_ref")
	cmd.Flags().StringSliceVar(&q.Classifiers, "classifier", nil, "only records with these sources / emission types (repeatable)")
	_ = cmd.MarkFlagRequired("stream")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

// build converts the flags into a replay query without a checkpoint.
func (q *queryFlags) build() (store.ReplayQuery, error) {
	stream, err := record.ParseStream(q.Stream)
	if err != nil {
		return store.ReplayQuery{}, err
	}
	start, err := parseTimeFlag("start", q.Start)
	if err != nil {
		return store.ReplayQuery{}, err
	}
	end, err := parseTimeFlag("end", q.End)
	if err != nil {
		return store.ReplayQuery{}, err
	}
	return store.ReplayQuery{
		Stream:      stream,
		Start:       start,
		End:         end,
		EntityRef:   q.EntityRef,
		Classifiers: q.Classifiers,
	}, nil
}

// parseTimeFlag accepts a calendar day (midnight UTC) or an RFC 3339
// timestamp.
func parseTimeFlag(name, value string) (time.Time, error) {
	if day, err := record.ParseDay(value); err == nil {
		return day.Start(), nil
	}
	t, err := record.ParseTimestamp(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: want YYYY-MM-DD or RFC 3339, got %q", name, value)
	}
	return t, nil
}
