// Package session persists conversations as JSONL files, one per session key.
//
// Invariants:
// - The session key is the only key into both the cache and the file store.
// - Line 1 of a file is a metadata record; every following line is one message.
// - Save rewrites the whole file through a temp file and rename.
// - An unreadable or corrupt file loads as a fresh session.
//
// Usage:
//
//	mgr, _ := session.NewManager("/tmp/nanobot/sessions")
//	s := mgr.GetOrCreate("telegram:42")
//	s.AddMessage("user", "hello")
//	_ = mgr.Save(s)
//	history := s.GetHistory(session.DefaultHistoryLimit)
//	_ = history
package session
