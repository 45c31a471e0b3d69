/*
Package inbox delivers typed notifications to agent inboxes.

A send renders the message as markdown, writes it atomically into the
recipient's inbox/unread folder, indexes it as a row in the store, and
appends an audit line to the sender's agent log. Marking a message read
flips the row and relocates the body into inbox/read; both halves are
idempotent.

Delegation and completion notifications honor the recipient's communication
preferences (served by pkg/org) unless the sender forces delivery. Deadlock
alerts are always delivered, always urgent, and always action-required.
*/
package inbox
