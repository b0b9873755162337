package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vdoc/internal/docstore"
	"github.com/roach88/vdoc/internal/queryir"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Data  string
	Title string
	By    string
	Merge bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <type> [id]",
		Short: "Create a document, or merge into it with --merge",
		Long: `Append a new version of a document.

Without --merge the data replaces the document. With --merge it is deep-merged
into the current version ({"$inc": n} and {"$pull": v} directives apply) and
a missing document is created.

Example:
  vdoc put post --data '{"body":"hello"}' --title "First post"
  vdoc put post p1 --merge --data '{"views":{"$inc":1}}'`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			return putDocument(opts, cmd, args[0], id)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "{}", "document data as JSON")
	cmd.Flags().StringVar(&opts.Title, "title", "", "document title")
	cmd.Flags().StringVar(&opts.By, "by", "", "author recorded on the version")
	cmd.Flags().BoolVar(&opts.Merge, "merge", false, "merge into the current version (upsert)")

	return cmd
}

func putDocument(opts *PutOptions, cmd *cobra.Command, typ, id string) error {
	if !json.Valid([]byte(opts.Data)) {
		return NewExitError(ExitCommandError, "invalid --data JSON")
	}
	if opts.Merge && id == "" {
		return NewExitError(ExitCommandError, "--merge requires an id")
	}
	client, logger, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer closeClient(client, logger)
	out := opts.formatter(cmd)

	data := json.RawMessage(opts.Data)
	if opts.Merge {
		in := docstore.UpdateInput{Patch: data, By: opts.By, Upsert: true}
		if cmd.Flags().Changed("title") {
			in.Title = &opts.Title
		}
		r, err := client.Update(cmd.Context(), typ, id, in)
		if err != nil {
			return out.Fail("put failed", err)
		}
		return out.Success(viewOf(r))
	}

	r, err := client.Create(cmd.Context(), typ, docstore.CreateInput{ID: id, Title: opts.Title, Data: data, By: opts.By})
	if err != nil {
		return out.Fail("put failed", err)
	}
	return out.Success(viewOf(r))
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <type> <id>",
		Short:         "Print the current version of a document",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := rootOpts.connect(cmd)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)
			out := rootOpts.formatter(cmd)

			r, ok, err := client.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return out.Fail("get failed", err)
			}
			if !ok {
				_ = out.Error("NOT_FOUND", fmt.Sprintf("%s/%s not found", args[0], args[1]), nil)
				return NewExitError(ExitFailure, "document not found")
			}
			return out.Success(viewOf(r))
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:           "delete <type> <id>",
		Short:         "Append a tombstone for a document",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := rootOpts.connect(cmd)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)
			out := rootOpts.formatter(cmd)

			if err := client.Delete(cmd.Context(), args[0], args[1], by); err != nil {
				return out.Fail("delete failed", err)
			}
			return out.Success(fmt.Sprintf("deleted %s/%s", args[0], args[1]))
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "author recorded on the tombstone")
	return cmd
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Where          []string
	Sort           []string
	Limit          int
	Offset         int
	IncludeDeleted bool
	Count          bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List the current version of every matching document",
		Long: `List the current version of every document of a type.

Filters compare a field with a literal using =, !=, >, >=, <, <= or ~ (LIKE).
Fields are metadata columns (id, v, title, createdAt, ...) or data.<path>.
Literals are parsed as JSON when possible, otherwise taken as strings.

Example:
  vdoc list post --where data.status=live --sort data.rank:desc --limit 10
  vdoc list post --where 'title~Intro%' --count`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDocuments(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "filter field<op>value (repeatable, all must hold)")
	cmd.Flags().StringArrayVar(&opts.Sort, "sort", nil, "sort field[:desc] (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum documents (0 = all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "documents to skip")
	cmd.Flags().BoolVar(&opts.IncludeDeleted, "include-deleted", false, "include deleted documents")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print only the number of matches")

	return cmd
}

func listDocuments(opts *ListOptions, cmd *cobra.Command, typ string) error {
	filter, err := parseWhere(opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --where", err)
	}
	sorts := parseSort(opts.Sort)

	client, logger, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer closeClient(client, logger)
	out := opts.formatter(cmd)

	if opts.Count {
		n, err := client.Count(cmd.Context(), typ, filter)
		if err != nil {
			return out.Fail("count failed", err)
		}
		return out.Success(n)
	}

	rows, err := client.Find(cmd.Context(), typ, docstore.FindOptions{
		Filter:         filter,
		Sort:           sorts,
		Limit:          opts.Limit,
		Offset:         opts.Offset,
		IncludeDeleted: opts.IncludeDeleted,
	})
	if err != nil {
		return out.Fail("list failed", err)
	}
	return out.Success(listOf(rows))
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "history <type> <id>",
		Short:         "List every version of a document, newest first",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := rootOpts.connect(cmd)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)
			out := rootOpts.formatter(cmd)

			rows, err := client.History(cmd.Context(), args[0], args[1], limit)
			if err != nil {
				return out.Fail("history failed", err)
			}
			return out.Success(listOf(rows))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum versions (0 = all)")
	return cmd
}

// whereOps lists two-character operators before their one-character
// prefixes.
var whereOps = []struct {
	token string
	op    queryir.Op
}{
	{"!=", queryir.OpNe},
	{">=", queryir.OpGte},
	{"<=", queryir.OpLte},
	{"=", queryir.OpEq},
	{">", queryir.OpGt},
	{"<", queryir.OpLt},
	{"~", queryir.OpLike},
}

// parseWhere turns field<op>value expressions into one conjunction.
func parseWhere(exprs []string) (queryir.Predicate, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	preds := make([]queryir.Predicate, 0, len(exprs))
	for _, expr := range exprs {
		p, err := parseCompare(expr)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return queryir.AllOf(preds...), nil
}

// parseCompare splits expr at the leftmost operator, so the value may
// itself contain operator characters.
func parseCompare(expr string) (queryir.Compare, error) {
	for i := 1; i < len(expr); i++ {
		for _, o := range whereOps {
			if !strings.HasPrefix(expr[i:], o.token) {
				continue
			}
			field, raw := expr[:i], expr[i+len(o.token):]
			if o.op == queryir.OpLike {
				return queryir.Like(field, raw), nil
			}
			return queryir.Compare{Field: field, Op: o.op, Value: parseLiteral(raw)}, nil
		}
	}
	return queryir.Compare{}, fmt.Errorf("%q: expected field<op>value", expr)
}

// parseLiteral decodes raw as a JSON scalar, falling back to the raw string.
func parseLiteral(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	switch v.(type) {
	case nil, bool, string, json.Number:
		return v
	default:
		return raw
	}
}

func parseSort(specs []string) []queryir.Sort {
	out := make([]queryir.Sort, 0, len(specs))
	for _, s := range specs {
		field, dir, _ := strings.Cut(s, ":")
		out = append(out, queryir.Sort{Field: field, Desc: strings.EqualFold(dir, "desc")})
	}
	return out
}
