package mcp

import "github.com/mark3labs/mcp-go/mcp"

var topicProperties = map[string]any{
	"author":              map[string]any{"type": "string", "description": "Author of the later work"},
	"work_title":          map[string]any{"type": "string", "description": "Title of the later work"},
	"publication_details": map[string]any{"type": "string", "description": "Publisher, edition, pages"},
	"year":                map[string]any{"type": "integer", "description": "Publication year"},
	"reference_text":      map[string]any{"type": "string", "description": "How the work uses the passage (required)"},
	"user_notes":          map[string]any{"type": "string", "description": "Free-form notes"},
	"category":            map[string]any{"type": "string", "description": "Academic, Philosophical, Literary, Historical, Critique, or free text"},
	"keywords":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
}

var addPassageToolDef = mcp.NewTool("tree_add_passage",
	mcp.WithDescription("File a later work under the Talmud passage it cites. "+
		"If a tree for the citation exists (spelling variants like Brachot/Berakhot match), a branch is added to it; "+
		"otherwise the passage text is fetched and a new tree is created."),
	mcp.WithString("citation", mcp.Required(), mcp.Description("Talmud citation, e.g. \"Bavli Berakhot 2a\"")),
	mcp.WithObject("topic", mcp.Required(), mcp.Description("The citing work"), mcp.Properties(topicProperties)),
)

var fetchToolDef = mcp.NewTool("tree_fetch",
	mcp.WithDescription("Fetch one tree with all branches, by id or by citation."),
	mcp.WithString("id", mcp.Description("Tree id")),
	mcp.WithString("citation", mcp.Description("Citation to look up instead of an id")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var listToolDef = mcp.NewTool("tree_list",
	mcp.WithDescription("List trees, most recently updated first."),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var searchToolDef = mcp.NewTool("tree_search",
	mcp.WithDescription("Search roots and branches for text. Trees whose citation matches the query rank first."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Text or citation to find")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var duplicatesToolDef = mcp.NewTool("tree_duplicates",
	mcp.WithDescription("Find groups of trees whose root citations refer to the same passage."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var mergeToolDef = mcp.NewTool("tree_merge",
	mcp.WithDescription("Fold source trees into a target tree and DELETE the sources. "+
		"Each source root becomes a branch on the target. Irreversible: requires confirm=true."),
	mcp.WithString("target_id", mcp.Required(), mcp.Description("Tree that survives")),
	mcp.WithArray("source_ids", mcp.Required(), mcp.Description("Trees to fold in and delete"), mcp.WithStringItems()),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
	mcp.WithDestructiveHintAnnotation(true),
)

var updateRootToolDef = mcp.NewTool("tree_update_root",
	mcp.WithDescription("Edit root fields of a tree. Omitted fields are unchanged; source_text may not be empty."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Tree id")),
	mcp.WithString("title"),
	mcp.WithString("source_text"),
	mcp.WithString("hebrew_text"),
	mcp.WithString("hebrew_translation", mcp.Description("Empty string clears it")),
	mcp.WithString("translation"),
	mcp.WithString("user_notes_keywords"),
)

var regenerateToolDef = mcp.NewTool("tree_regenerate",
	mcp.WithDescription("Re-fetch the passage text for a tree's root and overwrite the fields the service returns."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Tree id")),
)

var deleteToolDef = mcp.NewTool("tree_delete",
	mcp.WithDescription("Permanently delete a tree and its branches. Requires confirm=true."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Tree id")),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
	mcp.WithDestructiveHintAnnotation(true),
)

var removeBranchToolDef = mcp.NewTool("tree_remove_branch",
	mcp.WithDescription("Remove one branch from a tree."),
	mcp.WithString("tree_id", mcp.Required()),
	mcp.WithString("branch_id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var harvestToolDef = mcp.NewTool("tree_harvest",
	mcp.WithDescription("Mark a branch as ground truth (harvested=true) or clear the mark."),
	mcp.WithString("tree_id", mcp.Required()),
	mcp.WithString("branch_id", mcp.Required()),
	mcp.WithBoolean("harvested", mcp.Description("Default true")),
)

var exportToolDef = mcp.NewTool("tree_export",
	mcp.WithDescription("Export the whole forest to a JSONL file."),
	mcp.WithString("path", mcp.Description("Default: ~/.sugya/exports/forest-<timestamp>.jsonl")),
)

var importToolDef = mcp.NewTool("tree_import",
	mcp.WithDescription("Import trees from a JSONL export."),
	mcp.WithString("path", mcp.Required()),
	mcp.WithString("mode", mcp.Description("On id collision: error (default, nothing imported), replace, or skip"),
		mcp.Enum("error", "replace", "skip")),
)
