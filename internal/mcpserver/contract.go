package mcpserver

// RecordFormatContract describes how records are laid out on disk and what
// LLM consumers must respect when adding to an item's history.
const RecordFormatContract = `# Othala Record Format Contract

Every item is an append-only DAG of records. A record is a directory of
files whose name IS the hash of its content, so records are immutable:
changing a file would change the name.

## Structure

` + "```" + `
<repository>/
  config.yml            # hash, encoding, integrity_check
  items/
    <item-name>/        # directory, or redirect file pointing at one
      <record-hash>/    # record: encoded content hash of the tree below
        status          # arbitrary files, nested paths allowed
        comment/body.md
        .prev/
          <parent-hash> # one entry per parent record, named by its hash
` + "```" + `

## Rules

1. **Records are never edited or deleted.** State changes are expressed by
   appending a new record whose files override earlier ones.
2. **File names are relative slash paths.** No absolute paths, no ` + "`" + `..` + "`" + `,
   no empty names. Nested paths like ` + "`" + `comment/body.md` + "`" + ` are fine.
3. **Parentage is the ` + "`" + `.prev/` + "`" + ` directory.** Each entry under it names one
   parent record. Only the entry NAMES count toward the record's hash, so
   a parent link stays valid even if the parent's storage moves.
4. **New records claim the current heads as parents** (the records no other
   record points back to). Two writers appending concurrently produce two
   heads; the next record merges them by claiming both.
5. **Item and record directories may be redirect files**: a plain-text file
   holding one relative path to where the directory actually lives. Names
   never change when storage moves.
6. **State is derived, not stored.** Reading an item means folding its
   records oldest generation first; for each file name the newest record
   wins. There is no way to delete a key, only to overwrite it.
7. **Conventional file names** keep folded state useful across tools:
   ` + "`" + `status` + "`" + `, ` + "`" + `title` + "`" + `, ` + "`" + `assignee` + "`" + ` hold short values; larger bodies go
   under a subdirectory like ` + "`" + `comment/` + "`" + `.

## Example

Appending "close the bug" to item ` + "`" + `bug-1042` + "`" + `:

` + "```" + `json
{
  "item": "bug-1042",
  "files": {
    "status": "closed",
    "comment/body.md": "Fixed by routing around the stale cache."
  }
}
` + "```" + `

The server stages the files, links the current heads under ` + "`" + `.prev/` + "`" + `,
hashes the tree, and publishes the record under its hash name.
`
