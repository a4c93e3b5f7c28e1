package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/coalescer"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

// automationRow is one row shared by the flow/trigger/validation/workflow
// queries: an owning object ref, a name, an active flag, and (triggers
// only) source text for complexity analysis.
type automationRow struct {
	Ref        string `json:"ref"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	SourceText string `json:"source_text,omitempty"`
}

// AutomationEnricher runs the four coalesced automation queries and
// computes trigger code complexity locally via tree-sitter, grounded on
// the trace service's go_parser.go (ParseCtx, RootNode, HasError). No
// Apex grammar ships in the smacker/go-tree-sitter distribution the rest
// of this codebase depends on, so trigger source (itself a Java-derived
// grammar in syntax: braces, statements, comments) is parsed with the
// bundled Java grammar for line/comment/code counts, which is all §4.8
// asks of it. When that parse reports errors (a trigger header is not
// Java), analyzeSource counts lines by prefix instead. The Java grammar
// would misparse Apex-specific
// constructs (SOQL-in-code, trigger context variables) if used for
// anything beyond that.
type AutomationEnricher struct {
	bridge    *bridge.Bridge
	coalescer *coalescer.Coalescer
	retry     *retry.Engine
	logger    *ingestlog.Logger
}

func NewAutomationEnricher(br *bridge.Bridge, co *coalescer.Coalescer, re *retry.Engine, logger *ingestlog.Logger) *AutomationEnricher {
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &AutomationEnricher{bridge: br, coalescer: co, retry: re, logger: logger.With("component", "enrich.automation")}
}

func (e *AutomationEnricher) Name() model.Phase { return model.PhaseAutomation }

func (e *AutomationEnricher) Enrich(ctx context.Context, records map[model.ObjectRef]*model.ObjectRecord) map[model.ObjectRef]error {
	refs := make([]model.ObjectRef, 0, len(records))
	for ref := range records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	flows, err1 := e.coalescer.Fetch(ctx, "automation:Flow", refs, e.batchFor("Flow"))
	triggers, err2 := e.coalescer.Fetch(ctx, "automation:ApexTrigger", refs, e.batchFor("ApexTrigger"))
	validations, err3 := e.coalescer.Fetch(ctx, "automation:ValidationRule", refs, e.batchFor("ValidationRule"))
	workflows, err4 := e.coalescer.Fetch(ctx, "automation:WorkflowRule", refs, e.batchFor("WorkflowRule"))

	errs := make(map[model.ObjectRef]error)
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			e.logger.Warn("automation batch fetch failed entirely", "error", err.Error())
		}
	}

	for _, ref := range refs {
		triggerRows := decodeRawRows(triggers[ref])
		block := &model.AutomationBlock{
			Flows:           decodeRows(flows[ref], "flow"),
			Triggers:        rowsToRefs(triggerRows, "trigger"),
			ValidationRules: decodeRows(validations[ref], "validation_rule"),
			WorkflowRules:   decodeRows(workflows[ref], "workflow_rule"),
			CodeComplexity:  computeTriggerComplexity(triggerRows),
		}
		records[ref].Automation = block
	}

	return errs
}

func (e *AutomationEnricher) batchFor(kind string) coalescer.BatchFunc {
	return func(ctx context.Context, refs []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		refList := make([]string, len(refs))
		for i, r := range refs {
			refList[i] = string(r)
		}
		var resp struct {
			Rows map[string][]automationRow `json:"rows"`
		}
		class, err := e.retry.Do(ctx, "automation.list:"+kind, func(ctx context.Context, attempt int) (bridge.Classification, error) {
			res, runErr := e.bridge.RunJSON(ctx, []string{"automation", "list", "--kind", kind, "--objects", fmt.Sprint(refList), "--json"}, nil, 0, &resp)
			return res.Classification, runErr
		})
		if err != nil {
			return nil, class, err
		}
		out := make(map[model.ObjectRef][]byte, len(resp.Rows))
		for ref, rows := range resp.Rows {
			data, _ := json.Marshal(rows)
			out[model.ObjectRef(ref)] = data
		}
		return out, class, nil
	}
}

func decodeRawRows(payload []byte) []automationRow {
	if payload == nil {
		return nil
	}
	var rows []automationRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil
	}
	return rows
}

func decodeRows(payload []byte, kind string) []model.AutomationRef {
	return rowsToRefs(decodeRawRows(payload), kind)
}

// rowsToRefs converts one query's rows to AutomationRef, stamping kind
// ("flow" | "trigger" | "validation_rule" | "workflow_rule") onto every
// row since a single automationRow payload never mixes automation kinds.
func rowsToRefs(rows []automationRow, kind string) []model.AutomationRef {
	if len(rows) == 0 {
		return nil
	}
	out := make([]model.AutomationRef, len(rows))
	for i, r := range rows {
		out[i] = model.AutomationRef{Kind: kind, Name: r.Name, Active: r.Active}
	}
	return out
}

func computeTriggerComplexity(triggers []automationRow) []model.CodeComplexity {
	if len(triggers) == 0 {
		return nil
	}
	out := make([]model.CodeComplexity, 0, len(triggers))
	for _, t := range triggers {
		total, comment, code := analyzeSource(t.SourceText)
		out = append(out, model.CodeComplexity{Name: t.Name, TotalLines: total, CommentLines: comment, CodeLines: code})
	}
	return out
}

// analyzeSource parses source with the Java grammar and returns total,
// comment, and code line counts. Exposed for the enricher's own use once
// trigger source text is available from the automation query payload
// (source_text field); kept separate from computeTriggerComplexity so it
// can be unit tested against literal source strings.
func analyzeSource(source string) (total, comment, code int) {
	if source == "" {
		return 0, 0, 0
	}

	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(source))
	if err != nil {
		return countLinesFallback(source)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return countLinesFallback(source)
	}

	commentLines := make(map[int]bool)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "comment" || n.Type() == "line_comment" || n.Type() == "block_comment" {
			for line := int(n.StartPoint().Row); line <= int(n.EndPoint().Row); line++ {
				commentLines[line] = true
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	lines := splitLines(source)
	total = len(lines)
	comment = len(commentLines)
	code = total - comment
	return total, comment, code
}

func countLinesFallback(source string) (total, comment, code int) {
	lines := splitLines(source)
	total = len(lines)
	for _, l := range lines {
		trimmed := trimSpace(l)
		if len(trimmed) >= 2 && trimmed[:2] == "//" {
			comment++
		}
	}
	code = total - comment
	return total, comment, code
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
