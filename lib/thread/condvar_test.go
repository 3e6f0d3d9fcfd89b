package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondVar_WaitThenNotify(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local cv = thread.condvar()
		local h = thread.spawn(function() return cv:wait() end)
		while cv:waiting() == 0 do thread.sleep(1) end
		assert(cv:notify_one("payload") == 1)
		assert(h:join() == "payload")
	`)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Refs().Len())
}

func TestCondVar_NotifyWithoutWaiterIsDropped(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local cv = thread.condvar()
		assert(cv:notify_one("lost") == 0)
		assert(cv:notify_all("lost too") == 0)
		assert(select("#", cv:wait(20)) == 0, "no payload may be buffered")
	`)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Refs().Len())
}

func TestCondVar_NotifyAll(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local cv = thread.condvar()
		local hs = {}
		for i = 1, 5 do
			hs[i] = thread.spawn(function() return cv:wait() end)
		end
		while cv:waiting() < 5 do thread.sleep(1) end
		local payload = {tag = "P"}
		assert(cv:notify_all(payload) == 5)
		for i = 1, 5 do
			assert(hs[i]:join() == payload)
		end
		assert(cv:waiting() == 0)
	`)
	require.NoError(t, err)
}

func TestCondVar_FIFO(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local cv = thread.condvar()
		local got = {}
		local hs = {}
		for i = 1, 4 do
			hs[i] = thread.spawn(function()
				local v = cv:wait()
				got[i] = v
			end)
			while cv:waiting() < i do thread.sleep(1) end
		end
		for i = 1, 4 do cv:notify_one(i) end
		for i = 1, 4 do hs[i]:join() end
		for i = 1, 4 do assert(got[i] == i, "waiter " .. i .. " got " .. tostring(got[i])) end
	`)
	require.NoError(t, err)
}

func TestCondVar_TimedWait(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local cv = thread.condvar()
		local h = thread.spawn(function() return cv:wait(5000) end)
		while cv:waiting() == 0 do thread.sleep(1) end
		cv:notify_one(7)
		assert(h:join() == 7)

		local t = thread.spawn(function() return select("#", cv:wait(10)) end)
		assert(t:join() == 0)
		assert(cv:waiting() == 0, "timed out waiter must leave the queue")
	`)
	require.NoError(t, err)
}

func TestCondVar_Close(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local cv = thread.condvar()
		local h = thread.spawn(function() return pcall(cv.wait, cv) end)
		while cv:waiting() == 0 do thread.sleep(1) end

		assert(cv:close() == 1)
		local ok, err = h:join()
		assert(not ok)
		assert(string.find(err, "destroyed"), err)

		assert(not pcall(cv.notify_one, cv, 1))
		assert(not pcall(cv.wait, cv))
		assert(cv:close() == 0)
	`)
	require.NoError(t, err)
}

func TestCondVar_WokenWaitersRunOneAtATime(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local cv = thread.condvar()
		local inside, overlap = 0, false
		local hs = {}
		for i = 1, 6 do
			hs[i] = thread.spawn(function()
				cv:wait()
				inside = inside + 1
				if inside > 1 then overlap = true end
				for j = 1, 200 do local _ = j * j end
				inside = inside - 1
			end)
		end
		while cv:waiting() < 6 do thread.sleep(1) end
		cv:notify_all(true)
		for i = 1, 6 do hs[i]:join() end
		assert(not overlap)
	`)
	require.NoError(t, err)
}
