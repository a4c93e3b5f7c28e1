// Package emitter renders each completed ObjectRecord into a
// human-readable document and a set of token-bounded chunks, then writes
// the chunk corpus as JSONL alongside a schema snapshot (spec.md §4.10).
// Document structure (object header, fields table, automation, security,
// statistics sections) follows the original pipeline's
// enhanced_document_organizer.py _create_object_document, generalized
// from an ad hoc string-joined "content_parts" list to headed Markdown
// sections so the section-boundary splitting rule in Split has something
// concrete to split on.
package emitter

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// RenderDocument produces the full Markdown document for rec: an object
// heading, a fields table, and one section per populated enricher block.
func RenderDocument(rec model.ObjectRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", rec.Ref)
	if rec.Label != "" {
		fmt.Fprintf(&b, "Label: %s\n\n", rec.Label)
	}
	if rec.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", rec.Description)
	}

	renderFieldsSection(&b, rec)
	renderRelationshipsSection(&b, rec)
	if rec.Automation != nil {
		renderAutomationSection(&b, *rec.Automation)
	}
	if rec.Security != nil {
		renderSecuritySection(&b, *rec.Security)
	}
	if rec.Stats != nil {
		renderStatsSection(&b, *rec.Stats)
	}
	if rec.History != nil {
		renderHistorySection(&b, *rec.History)
	}

	return b.String()
}

func renderFieldsSection(b *strings.Builder, rec model.ObjectRecord) {
	if len(rec.Fields) == 0 {
		return
	}
	b.WriteString("## Fields\n\n")
	b.WriteString("| Name | Type | Required | Unique |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, f := range rec.Fields {
		fmt.Fprintf(b, "| %s | %s | %t | %t |\n", f.Name, f.Type, f.Required, f.Unique)
	}
	b.WriteString("\n")
}

func renderRelationshipsSection(b *strings.Builder, rec model.ObjectRecord) {
	if len(rec.Relationships) == 0 {
		return
	}
	b.WriteString("## Relationships\n\n")
	for _, r := range rec.Relationships {
		fmt.Fprintf(b, "- %s (%s) -> %s\n", r.FieldName, r.Kind, r.ToObject)
	}
	b.WriteString("\n")
}

func renderAutomationSection(b *strings.Builder, au model.AutomationBlock) {
	b.WriteString("## Automation\n\n")

	renderAutomationRefs(b, "Flows", au.Flows)
	renderAutomationRefs(b, "Triggers", au.Triggers)
	renderAutomationRefs(b, "Validation Rules", au.ValidationRules)
	renderAutomationRefs(b, "Workflow Rules", au.WorkflowRules)

	if len(au.CodeComplexity) > 0 {
		b.WriteString("### Code Complexity\n\n")
		for _, cc := range au.CodeComplexity {
			fmt.Fprintf(b, "- %s: %d lines (%d code, %d comment)\n", cc.Name, cc.TotalLines, cc.CodeLines, cc.CommentLines)
		}
		b.WriteString("\n")
	}
}

func renderAutomationRefs(b *strings.Builder, heading string, refs []model.AutomationRef) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", heading)
	for _, r := range refs {
		fmt.Fprintf(b, "- %s (active: %t)\n", r.Name, r.Active)
	}
	b.WriteString("\n")
}

func renderSecuritySection(b *strings.Builder, sec model.SecurityBlock) {
	b.WriteString("## Security\n\n")

	if len(sec.FieldPermissions) > 0 {
		b.WriteString("### Field Permissions\n\n")
		for _, fp := range sec.FieldPermissions {
			fmt.Fprintf(b, "- %s: editable by [%s], read-only for [%s]\n",
				fp.Field, strings.Join(fp.EditableBy, ", "), strings.Join(fp.ReadonlyBy, ", "))
		}
		b.WriteString("\n")
	}

	if len(sec.ObjectCRUD) > 0 {
		b.WriteString("### Object Permissions\n\n")
		b.WriteString("| Principal | Create | Read | Edit | Delete |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, c := range sec.ObjectCRUD {
			fmt.Fprintf(b, "| %s | %t | %t | %t | %t |\n", c.Principal, c.Create, c.Read, c.Edit, c.Delete)
		}
		b.WriteString("\n")
	}
}

func renderStatsSection(b *strings.Builder, st model.StatsBlock) {
	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(b, "Record count: %d\n\n", st.RecordCount)
	fmt.Fprintf(b, "Freshness (updated within window): %.1f%%\n\n", st.FreshnessFraction*100)

	if len(st.TopOwningProfiles) > 0 {
		fmt.Fprintf(b, "Top owning profiles: %s\n\n", strings.Join(st.TopOwningProfiles, ", "))
	}

	if len(st.FieldFillRates) > 0 {
		b.WriteString("### Field Fill Rates\n\n")
		for _, fr := range st.FieldFillRates {
			fmt.Fprintf(b, "- %s: %.1f%% (%d/%d sampled)\n", fr.Field, fr.FillRate*100, fr.NonNull, fr.Sampled)
		}
		b.WriteString("\n")
	}
}

func renderHistorySection(b *strings.Builder, hi model.HistoryBlock) {
	if len(hi.Fields) == 0 {
		return
	}
	b.WriteString("## Field History\n\n")
	for _, f := range hi.Fields {
		fmt.Fprintf(b, "- %s: created by %s on %s, last modified by %s on %s\n",
			f.Field, f.CreatedBy, f.CreatedAt.Format("2006-01-02"), f.ModifiedBy, f.ModifiedAt.Format("2006-01-02"))
	}
	b.WriteString("\n")
}
