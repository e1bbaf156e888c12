package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/lychee-technology/formsync"
	"github.com/olekukonko/tablewriter"
)

func runSync(ctx context.Context, args []string) error {
	flags := newFlagSet("sync", "[-form ID | -all | -members] [-full]")
	formID := flags.String("form", "", "form id to sync")
	all := flags.Bool("all", false, "sync every form")
	members := flags.Bool("members", false, "rebuild the member index only")
	full := flags.Bool("full", false, "rebuild indices instead of syncing changes since the last watermark")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	selected := 0
	for _, set := range []bool{*formID != "", *all, *members} {
		if set {
			selected++
		}
	}
	if selected != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one of -form, -all or -members is required")
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Manager.Close()

	switch {
	case *members:
		res, err := c.Manager.SyncMembers(ctx)
		if res != nil {
			printSyncResults(os.Stdout, []*formsync.SyncResult{res})
		}
		return err
	case *all:
		out, err := c.Manager.SyncAll(ctx, *full)
		if err != nil {
			return err
		}
		results := out.Results
		if out.Members != nil {
			results = append([]*formsync.SyncResult{out.Members}, results...)
		}
		printSyncResults(os.Stdout, results)
		fmt.Println(out.Message)
		if !out.Success {
			return fmt.Errorf("%d of %d forms failed", out.FailureCount, out.SuccessCount+out.FailureCount)
		}
		return nil
	default:
		res, err := c.Manager.SyncForm(ctx, *formID, *full)
		if res != nil {
			printSyncResults(os.Stdout, []*formsync.SyncResult{res})
		}
		return err
	}
}

// printSyncResults renders one row per pass.
func printSyncResults(w io.Writer, results []*formsync.SyncResult) {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Form", "Name", "Mode", "Status", "Indexed", "Failed", "Elapsed", "Rate", "Message"})
	for _, r := range results {
		mode := "incremental"
		if r.FullSync {
			mode = "full"
		}
		status := "ok"
		if !r.Success {
			status = "FAILED"
		}
		table.Append([]string{
			r.FormID,
			r.FormName,
			mode,
			status,
			humanize.Comma(int64(r.Count)),
			humanize.Comma(int64(r.Failed)),
			fmt.Sprintf("%.2fs", r.Elapsed),
			fmt.Sprintf("%s/s", humanize.CommafWithDigits(r.Rate, 1)),
			r.Message,
		})
	}
	table.Render()
}
