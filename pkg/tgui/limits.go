package tgui

// MaxMessageLen is Telegram's hard limit for one message, counted in runes
// after entity parsing. Chunks are kept below it to leave room for tags.
const MaxMessageLen = 4096

const defaultChunkLen = 3500
