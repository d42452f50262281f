// Package tgui holds small helpers for building Telegram HTML messages.
//
// Values of type H are already escaped for ParseMode=HTML. Build a reply from H
// parts, then Split it so every chunk fits in one Telegram message.
package tgui
