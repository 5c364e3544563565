//go:build linux

package uinput

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ioctl requests from linux/uinput.h. x/sys/unix does not export them.
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiSetAbsBit  = 0x40045567
)

// Device is an open uinput node.
type Device struct {
	mu   sync.Mutex
	file *os.File
}

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputUserDev struct {
	Name         [maxNameSize]byte
	ID           inputID
	FFEffectsMax uint32
	Absmax       [absSize]int32
	Absmin       [absSize]int32
	Absfuzz      [absSize]int32
	Absflat      [absSize]int32
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Open creates the virtual device described by cfg.
func Open(cfg Config) (*Device, error) {
	file, err := openNode()
	if err != nil {
		return nil, err
	}
	d := &Device{file: file}
	if err := d.configure(cfg); err != nil {
		_ = file.Close()
		return nil, err
	}
	return d, nil
}

func openNode() (*os.File, error) {
	var lastErr error
	for _, p := range []string{"/dev/uinput", "/dev/input/uinput"} {
		file, err := os.OpenFile(p, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return file, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("open uinput: %w", lastErr)
}

func (d *Device) configure(cfg Config) error {
	fd := int(d.file.Fd())
	if len(cfg.Keys) > 0 {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, int(EV_KEY)); err != nil {
			return fmt.Errorf("UI_SET_EVBIT EV_KEY: %w", err)
		}
		for _, code := range cfg.Keys {
			if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(code)); err != nil {
				return fmt.Errorf("UI_SET_KEYBIT %#x: %w", code, err)
			}
		}
	}
	if len(cfg.Rels) > 0 {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, int(EV_REL)); err != nil {
			return fmt.Errorf("UI_SET_EVBIT EV_REL: %w", err)
		}
		for _, code := range cfg.Rels {
			if err := unix.IoctlSetInt(fd, uiSetRelBit, int(code)); err != nil {
				return fmt.Errorf("UI_SET_RELBIT %#x: %w", code, err)
			}
		}
	}

	var u uinputUserDev
	if len(cfg.Abs) > 0 {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, int(EV_ABS)); err != nil {
			return fmt.Errorf("UI_SET_EVBIT EV_ABS: %w", err)
		}
		for _, a := range cfg.Abs {
			if int(a.Code) >= absSize {
				return fmt.Errorf("abs code %#x out of range", a.Code)
			}
			if err := unix.IoctlSetInt(fd, uiSetAbsBit, int(a.Code)); err != nil {
				return fmt.Errorf("UI_SET_ABSBIT %#x: %w", a.Code, err)
			}
			u.Absmin[a.Code] = a.Min
			u.Absmax[a.Code] = a.Max
			u.Absfuzz[a.Code] = a.Fuzz
			u.Absflat[a.Code] = a.Flat
		}
	}

	copy(u.Name[:], truncName(cfg.Name))
	u.ID.Bustype = unix.BUS_USB
	u.ID.Vendor = cfg.Vendor
	u.ID.Product = cfg.Product
	u.ID.Version = cfg.Version
	if err := binary.Write(d.file, binary.LittleEndian, &u); err != nil {
		return fmt.Errorf("write uinput_user_dev: %w", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

// Emit writes one event followed by SYN_REPORT.
func (d *Device) Emit(typ, code uint16, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return errors.New("uinput device closed")
	}
	if err := d.write(typ, code, value); err != nil {
		return err
	}
	return d.write(EV_SYN, SYN_REPORT, 0)
}

func (d *Device) write(typ, code uint16, value int32) error {
	ev := inputEvent{Type: typ, Code: code, Value: value}
	return binary.Write(d.file, binary.LittleEndian, &ev)
}

// Close destroys the virtual device. It is safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	_ = unix.IoctlSetInt(int(d.file.Fd()), uiDevDestroy, 0)
	err := d.file.Close()
	d.file = nil
	return err
}
