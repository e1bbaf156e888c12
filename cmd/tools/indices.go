package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

func runClearIndices(ctx context.Context, args []string) error {
	flags := newFlagSet("clear-indices", "[-yes]")
	yes := flags.Bool("yes", false, "delete without asking again")
	keepWatermarks := flags.Bool("keep-watermarks", false, "keep incremental watermarks of the deleted forms")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Manager.Close()

	pattern := c.Config.Search.IndexPattern()
	indices, err := c.Backend.ListIndices(ctx, pattern)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		fmt.Printf("no indices match %s\n", pattern)
		return nil
	}
	for _, index := range indices {
		fmt.Println(index)
	}
	if !*yes {
		fmt.Printf("%d indices would be deleted; rerun with -yes to confirm\n", len(indices))
		return nil
	}

	prefix := c.Config.Search.IndexPrefix
	for _, index := range indices {
		if err := c.Backend.DeleteIndex(ctx, index); err != nil {
			return fmt.Errorf("delete %s: %w", index, err)
		}
		zap.S().Infow("deleted index", "index", index)
		if *keepWatermarks {
			continue
		}
		// a deleted index must be rebuilt by a full pass
		if err := c.Watermarks.Delete(ctx, index[len(prefix):]); err != nil {
			zap.S().Warnw("failed to reset watermark", "index", index, "error", err)
		}
	}
	fmt.Printf("deleted %d indices\n", len(indices))
	return nil
}

func runWatermarks(ctx context.Context, args []string) error {
	flags := newFlagSet("watermarks", "[-reset FORM_ID]")
	reset := flags.String("reset", "", "forget the watermark of a form so its next pass is full")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Manager.Close()

	if *reset != "" {
		if err := c.Watermarks.Delete(ctx, *reset); err != nil {
			return err
		}
		fmt.Printf("watermark of form %s reset\n", *reset)
		return nil
	}

	all, err := c.Watermarks.List(ctx)
	if err != nil {
		return err
	}
	printWatermarks(os.Stdout, all, time.Now())
	return nil
}

func printWatermarks(w io.Writer, all map[string]time.Time, now time.Time) {
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Form", "Last Sync", "Age"})
	for _, id := range ids {
		at := all[id]
		table.Append([]string{id, at.Format(time.RFC3339), humanize.RelTime(at, now, "ago", "from now")})
	}
	table.Render()
}

func runMember(ctx context.Context, args []string) error {
	flags := newFlagSet("member", "-id MEMBER_ID")
	id := flags.String("id", "", "member id")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	if *id == "" {
		flags.Usage()
		return fmt.Errorf("-id is required")
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Manager.Close()

	name, ok, err := c.Labels.ResolveOne(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("member %s not found", *id)
	}
	fmt.Printf("%s\t%s\n", *id, name)
	return nil
}
