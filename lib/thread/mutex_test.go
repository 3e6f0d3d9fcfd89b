package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_ProtectsAcrossSuspension(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local mx = thread.mutex()
		local n = 0
		local hs = {}
		for i = 1, 8 do
			hs[i] = thread.spawn(function()
				mx:lock()
				local v = n
				thread.sleep(1)
				n = v + 1
				mx:unlock()
			end)
		end
		for i = 1, 8 do hs[i]:join() end
		assert(n == 8, "n = " .. n)
	`)
	require.NoError(t, err)
}

func TestMutex_TryLock(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local mx = thread.mutex()
		assert(mx:try_lock())
		assert(not mx:try_lock())

		local h = thread.spawn(function() return mx:try_lock() end)
		assert(h:join() == false)

		mx:unlock()
		h = thread.spawn(function()
			local ok = mx:try_lock()
			mx:unlock()
			return ok
		end)
		assert(h:join() == true)
	`)
	require.NoError(t, err)
}

func TestMutex_Misuse(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local mx = thread.mutex()
		assert(not pcall(mx.unlock, mx), "unlock of a free mutex must fail")

		mx:lock()
		local ok, err = pcall(mx.lock, mx)
		assert(not ok)
		assert(string.find(err, "deadlock"), err)

		local h = thread.spawn(function() return pcall(mx.unlock, mx) end)
		assert(h:join() == false, "only the holder may unlock")
		mx:unlock()
	`)
	require.NoError(t, err)
}

func TestMutex_PoisonedByFailedHolder(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	err := runScript(t, sess, `
		local mx = thread.mutex()
		local h = thread.spawn(function()
			mx:lock()
			error("died holding the mutex")
		end)
		assert(not pcall(h.join, h))
		assert(mx:is_poisoned())

		-- still usable, and released by the failed holder
		assert(mx:try_lock())
		mx:unlock()

		local clean = thread.mutex()
		thread.spawn(function() clean:lock() end):join()
		assert(not clean:is_poisoned())
		assert(clean:try_lock(), "finished holder releases the mutex")
	`)
	require.NoError(t, err)
}

func TestMutex_ReleasedWhenHostStateCloses(t *testing.T) {
	sess, mod := newTestModule(t, Options{})

	require.NoError(t, runScript(t, sess, `
		kept = thread.mutex()
		kept:lock()
	`))
	require.NoError(t, runScript(t, sess, `
		assert(not kept:is_poisoned())
		assert(kept:try_lock(), "closed state still holds the mutex")
		kept:unlock()
	`))

	err := runScript(t, sess, `
		broken = thread.mutex()
		broken:lock()
		error("host script failed")
	`)
	require.Error(t, err)
	require.NoError(t, runScript(t, sess, `
		assert(broken:is_poisoned())
		assert(broken:try_lock())
		broken:unlock()
	`))

	mod.heldMu.Lock()
	assert.Empty(t, mod.held)
	mod.heldMu.Unlock()
}

func TestMutex_HostReleaseHandsOffToWaiter(t *testing.T) {
	sess, _ := newTestModule(t, Options{})

	require.NoError(t, runScript(t, sess, `
		gate = thread.mutex()
		gate:lock()
		waiter = thread.spawn(function()
			gate:lock()
			gate:unlock()
			return "acquired"
		end)
	`))
	require.NoError(t, runScript(t, sess, `
		assert(waiter:join() == "acquired")
		assert(not gate:is_poisoned())
	`))
}
