package cachesync

import "strings"

// BoardsPath is the cached board list.
const BoardsPath = "/api/boards"

func BoardPath(boardID string) string { return BoardsPath + "/" + boardID }

func ColumnsPath(boardID string) string { return BoardPath(boardID) + "/columns" }

func TasksPath(boardID, columnID string) string {
	return ColumnsPath(boardID) + "/" + columnID + "/tasks"
}

// underBoard reports whether key belongs to the board's own entry or any
// entry nested under it.
func underBoard(key, boardID string) bool {
	p := BoardPath(boardID)
	return key == p || strings.HasPrefix(key, p+"/")
}

// underColumn reports whether key is a column-scoped entry
// (/api/columns/{c} or anything below it) for one of columnIDs.
func underColumn(key string, columnIDs []string) bool {
	rest, ok := strings.CutPrefix(key, "/api/columns/")
	if !ok {
		return false
	}
	seg, _, _ := strings.Cut(rest, "/")
	for _, id := range columnIDs {
		if id != "" && seg == id {
			return true
		}
	}
	return false
}
