// Package bot implements a minimal Discord chat bot backed by an
// OpenAI-compatible chat-completion API.
//
// The bot registers two slash commands:
//
//   - /chat: Forwards the user's prompt, a configured system prompt, and
//     the user's retained conversation history to the completion API and
//     replies with the assistant's message.
//   - /reset: Clears the user's conversation history.
//
// Key components of the package include:
//
//   - Bot: The main struct that wires configuration, the discord session,
//     the completion client, and conversation history together.
//   - Discord: Handles discord integration, sessions and slash commands.
//   - OpenAI: Manages completion requests, rotating through an ordered
//     pool of API keys when a key fails with an authentication,
//     rate-limit or quota error.
//   - History: Per-user, bounded, in-memory conversation history.
//
// All state is process-scoped and in-memory: the key pool and rotation
// cursor reset on restart, and conversation history lives only for the
// lifetime of the process.
package bot
