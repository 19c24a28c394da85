// Package presence tracks which users are in which project and which file,
// plus their ephemeral cursor and selection state. It is a pure in-memory
// index, independent of document content.
package presence

import "hash/fnv"

// palette is the fixed set of cursor colors users are assigned from.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

// User is a collaborating user as seen by peers.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// NewUser creates a user with a color derived deterministically from the
// id, so every replica renders the same user the same way.
func NewUser(id, name string) User {
	return User{
		ID:    id,
		Name:  name,
		Color: ColorFor(id),
	}
}

// ColorFor hashes a user id into the fixed palette.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))

	return palette[h.Sum32()%uint32(len(palette))]
}

// Cursor is a caret position within a file.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a selected range within a file.
type Selection struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// FileScope says whether presence is scoped to a whole project or to a
// specific file within it. It replaces a nullable file id so the
// "not viewing a specific file" state is explicit.
type FileScope struct {
	fileID  string
	hasFile bool
}

// ProjectOnly is the scope of a user who joined a project without opening
// a file.
func ProjectOnly() FileScope {
	return FileScope{}
}

// ProjectAndFile is the scope of a user viewing a specific file.
func ProjectAndFile(fileID string) FileScope {
	return FileScope{fileID: fileID, hasFile: true}
}

// FileID returns the file id and whether one is set.
func (s FileScope) FileID() (string, bool) {
	return s.fileID, s.hasFile
}

// String renders the scope for logs.
func (s FileScope) String() string {
	if s.hasFile {
		return "file:" + s.fileID
	}

	return "project-only"
}
