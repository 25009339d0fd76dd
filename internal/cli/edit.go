package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bowmanmike/libsync/internal/app"
)

func newEditCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <track-id> <field> [value]",
		Short: "Record an edit in the update log and apply it to the snapshot",
		Long: "Record an edit in the update log and apply it to the snapshot.\n\n" +
			"Fields: plays, rating, name, artist, album, album_artist, genre, year, start, finish, artwork.\n" +
			"A plays edit without a value counts one more play.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.setup(cmd.ErrOrStderr()); err != nil {
				return err
			}

			field, err := app.ParseField(args[1])
			if err != nil {
				return err
			}
			edit := app.Edit{Field: field, TrackID: strings.ToUpper(args[0])}
			if len(args) == 3 {
				edit.Value = args[2]
			}

			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stored, err := store.RecordEdit(cmd.Context(), edit)
			if err != nil {
				return fmt.Errorf("record edit: %w", err)
			}
			opts.logger.Info("edit recorded", "track_id", edit.TrackID, "field", field.String(), "value", stored)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", edit.TrackID, field, stored)
			return nil
		},
	}
}
