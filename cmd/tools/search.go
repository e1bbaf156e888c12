package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lychee-technology/formsync"
	"github.com/olekukonko/tablewriter"
)

func runSearch(ctx context.Context, args []string) error {
	flags := newFlagSet("search", "-q TEXT [-forms ID,ID] [-size N] [-from N]")
	query := flags.String("q", "", "search text")
	forms := flags.String("forms", "", "comma separated form ids to restrict the search to")
	size := flags.Int("size", 10, "number of hits")
	from := flags.Int("from", 0, "offset of the first hit")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}
	if strings.TrimSpace(*query) == "" {
		flags.Usage()
		return fmt.Errorf("-q is required")
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Manager.Close()

	var formIDs []string
	for _, id := range strings.Split(*forms, ",") {
		if id = strings.TrimSpace(id); id != "" {
			formIDs = append(formIDs, id)
		}
	}
	res, err := c.Manager.Search(ctx, formsync.SearchRequest{Query: *query, FormIDs: formIDs, Size: *size, From: *from})
	if err != nil {
		return err
	}
	printSearchResult(os.Stdout, res)
	return nil
}

// printSearchResult renders hits with their best highlight fragment.
func printSearchResult(w io.Writer, res *formsync.SearchResult) {
	fmt.Fprintf(w, "%s hits (max score %.2f, took %dms)\n", humanize.Comma(res.Total), res.MaxScore, res.Took)
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Score", "Form", "Record", "Match"})
	for _, h := range res.Hits {
		table.Append([]string{
			fmt.Sprintf("%.2f", h.Score),
			fmt.Sprintf("%s (%s)", h.FormName, h.FormID),
			h.RecordID,
			firstFragment(h.Highlight),
		})
	}
	table.Render()
}

func firstFragment(highlight map[string][]string) string {
	keys := make([]string, 0, len(highlight))
	for k := range highlight {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(highlight[k]) > 0 {
			return k + ": " + highlight[k][0]
		}
	}
	return ""
}

func runForms(ctx context.Context, args []string) error {
	flags := newFlagSet("forms", "[-search TEXT] [-page N] [-page-size N]")
	search := flags.String("search", "", "case-insensitive name filter")
	page := flags.Int("page", 1, "page number")
	pageSize := flags.Int("page-size", 50, "forms per page")
	if ok, err := parseFlags(flags, args); !ok {
		return err
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Manager.Close()

	res, err := c.Manager.ListForms(ctx, formsync.FormListRequest{Page: *page, PageSize: *pageSize, Search: *search})
	if err != nil {
		return err
	}
	printForms(os.Stdout, res)
	return nil
}

func printForms(w io.Writer, page *formsync.FormPage) {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Name", "Table"})
	for _, f := range page.Forms {
		table.Append([]string{f.ID, f.Name, f.TableName})
	}
	table.Render()
	p := page.Pagination
	fmt.Fprintf(w, "page %d of %d, %s forms\n", p.Page, p.TotalPages, humanize.Comma(int64(p.Total)))
}
