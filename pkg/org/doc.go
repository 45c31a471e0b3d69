/*
Package org exposes the agent directory: reporting lines and communication
preferences.

The engine never mutates agent records, so preferences are cached in an
expiring LRU in front of the store. Unknown agents fall back to all-enabled
defaults, keeping notification delivery decoupled from directory hygiene.
*/
package org
