// Package luaeng embeds a Lua interpreter as a guest substrate. Guest
// scripts drive the UI through a global `ui` table whose functions map onto
// the runtime's operation builders.
//
// gopher-lua states are not goroutine-safe, so every touch of the
// interpreter is funneled through a single executor goroutine. Host-side
// callers (event dispatch, callback invocation) post work to that goroutine
// and never hold the state themselves.
package luaeng
