// Package thread is the script-facing concurrency library.
//
// Scripts see it as the global (and preloadable module) thread:
//
//	local h = thread.spawn(function(a) return a * 2 end, "doubler")
//	print(h.name, h.id, h:status())
//	local v = h:join()
//
//	local cv = thread.condvar()
//	local waiter = thread.spawn(function() return cv:wait() end)
//	cv:notify_one("payload")   -- dropped if nobody is waiting yet
//
//	local mx = thread.mutex()
//	mx:lock() ... mx:unlock()
//
//	local worker = thread.spawn(function() return thread.park(1000) end)
//	worker:unpark()                -- true, or false after a second
//
//	thread.sleep(10)
//	thread.yield_now()
//	thread.id(), thread.name()
//
// Every spawned thread runs on its own goroutine and its own sub-state and
// takes the session's boundary lock before touching the interpreter. sleep,
// join, park, cv:wait, mx:lock and yield_now release the lock while
// suspended.
//
// The spawned closure, the finished thread's outcome and every condition
// variable payload travel through the session's value reference registry.
// A failure raised by a thread is re-raised by join with the same value.
package thread
