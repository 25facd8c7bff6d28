// Package actor provides the mailbox and handle primitive used by every
// stateful houseflow component.
//
// An actor is a single goroutine that exclusively owns its state and reads
// messages from a private [Mailbox]. Everyone else holds a [Handle], a
// copyable value wrapping only the sending side. There are two call shapes:
//
//   - Notify: enqueue a message and return without waiting for a reply.
//   - Call: enqueue a message carrying a one-shot reply channel and wait for
//     the actor to answer it.
//
// # Usage
//
//	type counterMsg struct {
//	    add   int
//	    reply actor.Reply[int]
//	}
//
//	mailbox, handle := actor.New[counterMsg](16)
//	go func() {
//	    defer mailbox.Close()
//	    total := 0
//	    for {
//	        select {
//	        case msg := <-mailbox.Receive():
//	            total += msg.add
//	            msg.reply.Send(total)
//	        case <-ctx.Done():
//	            return
//	        }
//	    }
//	}()
//
//	total, err := actor.Call(ctx, handle, func(r actor.Reply[int]) counterMsg {
//	    return counterMsg{add: 2, reply: r}
//	})
//
// Once the actor goroutine calls [Mailbox.Close], every copy of the handle
// is closed and further calls return [ErrClosed].
package actor
