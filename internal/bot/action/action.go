// Package action encodes and decodes the compact callback tokens carried
// by inline keyboard buttons. Every button press arrives back as one of
// these tokens, so the whole UI state machine hangs off this grammar.
package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Telegram rejects callback data longer than 64 bytes; every encoding here
// must stay under that with worst-case decimal ids.
const maxTokenLen = 64

const sep = "_"

// ErrMalformed is returned for tokens that do not parse. Callers treat it
// as a no-op rather than an error shown to the user.
var ErrMalformed = errors.New("malformed callback token")

// Kind tags the namespace of an action token.
type Kind string

const (
	KindTorrent     Kind = "torrent"           // torrent detail view and its verbs
	KindListGoto    Kind = "torrentsgoto"      // torrent list pagination
	KindFiles       Kind = "torrentsfiles"     // file list of a torrent
	KindDeleteMenu  Kind = "deletemenutorrent" // delete confirmation menu
	KindDelete      Kind = "deletetorrent"     // confirmed deletion
	KindAddMenu     Kind = "addmenu"           // post-add confirmation menu
	KindAddAction   Kind = "torrentadd"        // start/cancel from the add menu
	KindSelectFiles Kind = "selectfiles"       // file selection before starting
	KindFileSelect  Kind = "fileselect"        // toggle in the selection menu
	KindFileEdit    Kind = "editfile"          // toggle in the file list
)

// Verb is the operation requested within a namespace.
type Verb string

const (
	VerbView   Verb = "view"
	VerbStart  Verb = "start"
	VerbStop   Verb = "stop"
	VerbVerify Verb = "verify"
	VerbReload Verb = "reload"
	VerbCancel Verb = "cancel"
)

// torrentVerbs are the verbs accepted in the torrent namespace. Anything
// else decodes as view so a stale or mistyped button still lands the user
// on a working screen.
var torrentVerbs = map[Verb]bool{
	VerbView:   true,
	VerbStart:  true,
	VerbStop:   true,
	VerbVerify: true,
	VerbReload: true,
}

// Action is a decoded callback token. Which fields are meaningful depends
// on Kind; Encode ignores the rest.
type Action struct {
	Kind      Kind
	TorrentID int64

	Verb       Verb  // KindTorrent, KindAddAction
	Offset     int   // KindListGoto
	Reload     bool  // KindListGoto, KindFiles
	FileID     int64 // KindFileSelect, KindFileEdit
	Wanted     bool  // KindFileSelect, KindFileEdit: target state
	DeleteData bool  // KindDelete
}

// Encode renders the action as a callback token. The encoding is canonical:
// optional suffixes are omitted when they carry the default value, so
// Decode(Encode(a)) == a for every valid action.
func (a Action) Encode() string {
	parts := []string{string(a.Kind)}

	switch a.Kind {
	case KindListGoto:
		parts = append(parts, strconv.Itoa(a.Offset))
		if a.Reload {
			parts = append(parts, string(VerbReload))
		}
	case KindTorrent:
		parts = append(parts, strconv.FormatInt(a.TorrentID, 10))
		if a.Verb != "" && a.Verb != VerbView {
			parts = append(parts, string(a.Verb))
		}
	case KindFiles:
		parts = append(parts, strconv.FormatInt(a.TorrentID, 10))
		if a.Reload {
			parts = append(parts, string(VerbReload))
		}
	case KindDelete:
		parts = append(parts, strconv.FormatInt(a.TorrentID, 10))
		if a.DeleteData {
			parts = append(parts, "data")
		}
	case KindAddAction:
		parts = append(parts, strconv.FormatInt(a.TorrentID, 10), string(a.Verb))
	case KindFileSelect, KindFileEdit:
		parts = append(parts,
			strconv.FormatInt(a.TorrentID, 10),
			strconv.FormatInt(a.FileID, 10),
			boolToken(a.Wanted))
	default: // KindDeleteMenu, KindAddMenu, KindSelectFiles
		parts = append(parts, strconv.FormatInt(a.TorrentID, 10))
	}

	token := strings.Join(parts, sep)
	if len(token) > maxTokenLen {
		// Unreachable with decimal int64 ids; guard against grammar drift.
		panic(fmt.Sprintf("callback token %q exceeds %d bytes", token, maxTokenLen))
	}
	return token
}

// Decode parses a callback token. Unknown verbs in the torrent namespace
// fall back to view; structural problems (unknown namespace, bad integer,
// wrong field count) return ErrMalformed.
func Decode(token string) (Action, error) {
	parts := strings.Split(token, sep)
	if len(parts) < 2 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}

	kind := Kind(parts[0])
	rest := parts[1:]

	switch kind {
	case KindListGoto:
		return decodeListGoto(rest, token)
	case KindTorrent:
		return decodeTorrent(rest, token)
	case KindFiles:
		return decodeFiles(rest, token)
	case KindDelete:
		return decodeDelete(rest, token)
	case KindAddAction:
		return decodeAddAction(rest, token)
	case KindFileSelect, KindFileEdit:
		return decodeFileToggle(kind, rest, token)
	case KindDeleteMenu, KindAddMenu, KindSelectFiles:
		if len(rest) != 1 {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		id, err := parseID(rest[0])
		if err != nil {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		return Action{Kind: kind, TorrentID: id}, nil
	default:
		return Action{}, fmt.Errorf("%w: unknown namespace in %q", ErrMalformed, token)
	}
}

func decodeListGoto(rest []string, token string) (Action, error) {
	if len(rest) < 1 || len(rest) > 2 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	offset, err := parseID(rest[0])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	a := Action{Kind: KindListGoto, Offset: int(offset)}
	if len(rest) == 2 {
		if rest[1] != string(VerbReload) {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		a.Reload = true
	}
	return a, nil
}

func decodeTorrent(rest []string, token string) (Action, error) {
	if len(rest) < 1 || len(rest) > 2 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	id, err := parseID(rest[0])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	a := Action{Kind: KindTorrent, TorrentID: id, Verb: VerbView}
	if len(rest) == 2 {
		verb := Verb(rest[1])
		if !torrentVerbs[verb] {
			verb = VerbView
		}
		a.Verb = verb
	}
	return a, nil
}

func decodeFiles(rest []string, token string) (Action, error) {
	if len(rest) < 1 || len(rest) > 2 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	id, err := parseID(rest[0])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	a := Action{Kind: KindFiles, TorrentID: id}
	if len(rest) == 2 {
		if rest[1] != string(VerbReload) {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		a.Reload = true
	}
	return a, nil
}

func decodeDelete(rest []string, token string) (Action, error) {
	if len(rest) < 1 || len(rest) > 2 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	id, err := parseID(rest[0])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	a := Action{Kind: KindDelete, TorrentID: id}
	if len(rest) == 2 {
		if rest[1] != "data" {
			return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
		}
		a.DeleteData = true
	}
	return a, nil
}

func decodeAddAction(rest []string, token string) (Action, error) {
	if len(rest) != 2 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	id, err := parseID(rest[0])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	verb := Verb(rest[1])
	if verb != VerbStart && verb != VerbCancel {
		// Unknown verb falls back to re-rendering the add menu.
		verb = VerbView
	}
	return Action{Kind: KindAddAction, TorrentID: id, Verb: verb}, nil
}

func decodeFileToggle(kind Kind, rest []string, token string) (Action, error) {
	if len(rest) != 3 {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	id, err := parseID(rest[0])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	fileID, err := parseID(rest[1])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	wanted, err := parseBoolToken(rest[2])
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, token)
	}
	return Action{Kind: kind, TorrentID: id, FileID: fileID, Wanted: wanted}, nil
}

// parseID parses a non-negative decimal integer.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, fmt.Errorf("negative id %d", id)
	}
	return id, nil
}

func boolToken(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBoolToken(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("bad bool token %q", s)
	}
}
