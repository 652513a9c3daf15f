package serialport

import (
	"testing"
	"time"

	"github.com/berfenger/fesd/pkg/fesd"
	"github.com/stretchr/testify/assert"
)

func TestNewOpener(t *testing.T) {

	assert := assert.New(t)

	o, err := NewOpener(Config{})
	assert.NoError(err)
	b, ok := o.(bugstOpener)
	if assert.True(ok, "bugst is the default driver") {
		assert.Equal(115200, b.cfg.Baud)
		assert.Equal(50*time.Millisecond, b.cfg.PollInterval)
	}

	o, err = NewOpener(Config{Driver: "TARM", Baud: 9600})
	assert.NoError(err)
	tm, ok := o.(tarmOpener)
	if assert.True(ok) {
		assert.Equal(9600, tm.cfg.Baud)
	}

	_, err = NewOpener(Config{Driver: "usbtmc"})
	assert.ErrorIs(err, fesd.ErrConfiguration)
}

func TestOpenMissingPort(t *testing.T) {

	assert := assert.New(t)

	for _, driver := range []string{DriverBugst, DriverTarm} {
		o, err := NewOpener(Config{Driver: driver})
		assert.NoError(err)
		_, err = o.Open("/dev/fesd-does-not-exist")
		assert.Error(err, driver)
	}
}
