// Copyright 2026 The bare-metal-go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ehci

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bare-metal-go/ehci/internal/reg"
)

// Sentinel errors (spec §7).
var (
	// ErrMisaligned is returned by New when Config.Base is not 32-byte
	// aligned.
	ErrMisaligned = errors.New("ehci: USBBASE is not 32-byte aligned")

	// ErrNoMemory is returned by TransferEnqueue when the qH/qTD pools and
	// the Allocator behind them are exhausted. The reference Allocator
	// (dma.Region) reports exhaustion by panicking rather than returning
	// an error; qhFor and buildChain recover that panic at the allocation
	// boundary, release whatever partial qTD chain they had already built
	// back to the pool, and surface it as ErrNoMemory instead, leaving the
	// pipe and transfer state unchanged (spec §7 "Allocation failure").
	ErrNoMemory = errors.New("ehci: allocation failure")

	// ErrHostSystem is returned by TransferEnqueue once a host system
	// error has halted the controller (spec §7 "Host system error", §9
	// "Recovery from host system error" — this driver's resolution: mark
	// dead, reject new transfers, no re-init attempted).
	ErrHostSystem = errors.New("ehci: host system error")
)

// Config carries the build-time knobs the source expresses as compile-time
// constants (spec §6 "Build-time configuration"). Zero values are replaced
// with the documented defaults by New.
type Config struct {
	// Base is the controller's MMIO base address (USBBASE).
	Base uintptr

	// PeriodicSize is the frame-list length: 1024 (standard) or a
	// smaller power of two on constrained platforms.
	PeriodicSize int

	// MaxQTDPool/MaxQHPool bound the respective descriptor pools.
	MaxQTDPool int
	MaxQHPool  int

	// SoftThreadPriority is advisory only: it is recorded for platforms
	// whose scheduler wants a priority hint, but this driver's soft
	// thread is a plain goroutine, so no scheduling effect follows from
	// it (spec open question "EHCI_PRIO").
	SoftThreadPriority int

	// CollapsedBase selects the platform register variant that maps the
	// operational bank onto the same base as the capability bank and
	// exposes USBMODE at a fixed operational offset (spec §4.7
	// "platform variant uses opbase = base").
	CollapsedBase bool

	// Allocator, PHY and Roothub are the required downward-contract
	// collaborators (spec §6). Roothub may be nil if root-hub requests
	// are not yet wired.
	Allocator Allocator
	PHY       PHY
	Roothub   Roothub
}

const (
	defaultPeriodicSize = 1024
	defaultMaxQTDPool   = 32
	defaultMaxQHPool    = 16
	periodicAlign       = 4096
)

func (cfg *Config) setDefaults() {
	if cfg.PeriodicSize == 0 {
		cfg.PeriodicSize = defaultPeriodicSize
	}
	if cfg.MaxQTDPool == 0 {
		cfg.MaxQTDPool = defaultMaxQTDPool
	}
	if cfg.MaxQHPool == 0 {
		cfg.MaxQHPool = defaultMaxQHPool
	}
}

// Controller is one EHCI host controller instance (spec §4.7, §5).
type Controller struct {
	cfg   Config
	alloc Allocator
	phy   PHY

	cap reg.Bank
	ops reg.Bank

	sentinel *qh

	qtdPool *qtdPool
	qhPool  *qhPool

	pipeMu sync.Mutex
	pipeQH map[*Pipe]*qh

	asyncLock    sync.Mutex
	periodicLock sync.Mutex
	transLock    sync.Mutex

	transfers transferList

	periodicAddr  uint
	periodicList  []uint32 // software mirror of the DMA-resident frame list
	periodicNodes []*qh

	irqMu        sync.Mutex
	irqCond      *sync.Cond
	stickyStatus uint32
	stopCh       chan struct{}

	roothub Roothub
	dead    atomic.Bool
}

// registry is the central HCD registry new controllers self-register into
// at module-load time (spec §6 "Registers as type = \"ehci\"").
var (
	registryMu sync.Mutex
	registry   = map[string]func(Config) (*Controller, error){}
)

func init() {
	Register("ehci", New)
}

// Register adds a constructor to the central HCD registry under name.
func Register(name string, ctor func(Config) (*Controller, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// Lookup returns the constructor registered under name, if any.
func Lookup(name string) (func(Config) (*Controller, error), bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	ctor, ok := registry[name]
	return ctor, ok
}

// New brings up a controller per cfg (spec §4.7 "Controller bring-up").
func New(cfg Config) (*Controller, error) {
	cfg.setDefaults()

	if cfg.Base%32 != 0 {
		return nil, ErrMisaligned
	}
	if cfg.Allocator == nil {
		return nil, fmt.Errorf("ehci: Config.Allocator is required")
	}

	c := &Controller{
		cfg:     cfg,
		alloc:   cfg.Allocator,
		phy:     cfg.PHY,
		roothub: cfg.Roothub,
		pipeQH:  make(map[*Pipe]*qh),
		stopCh:  make(chan struct{}),
	}
	c.irqCond = sync.NewCond(&c.irqMu)

	c.qtdPool = newQTDPool(cfg.MaxQTDPool)
	c.qhPool = newQHPool(cfg.MaxQHPool)

	c.cap = reg.NewBank(cfg.Base, 3)
	capLength := c.cap.Get(capCapLength, 0, 0xff)

	opbase := cfg.Base + uintptr(capLength)
	if cfg.CollapsedBase {
		opbase = cfg.Base
	}
	c.ops = reg.NewBank(opbase, int(opUSBMode)+1)

	c.periodicAddr = c.alloc.AllocAligned(cfg.PeriodicSize*4, periodicAlign)
	c.periodicList = make([]uint32, cfg.PeriodicSize)
	c.periodicNodes = make([]*qh, cfg.PeriodicSize)
	for i := range c.periodicList {
		c.writePeriodicSlot(i, ptrInvalid)
	}

	c.sentinel = newQH(c.alloc)
	v := c.sentinel.info0(c.alloc)
	v |= 1 << info0Head
	c.sentinel.setInfo0(c.alloc, v)
	c.sentinel.next = c.sentinel
	c.sentinel.prev = c.sentinel
	c.sentinel.setHorizontal(c.alloc, linkPtr(uint32(c.alloc.VA2PA(c.sentinel.addr))))
	reg.Barrier()

	if c.phy != nil {
		if err := c.phy.Init(c); err != nil {
			return nil, fmt.Errorf("ehci: phy init: %w", err)
		}
	}

	go c.softThread()

	c.stop()
	c.reset()

	if c.cap.Get(capHCCParams, hccParams64BitAddrs, 1) != 0 {
		c.ops.Write(opCtrlDSSegment, 0)
	}

	c.ops.Write(opUSBIntr, intrMask)

	c.ops.Write(opPeriodicListBase, uint32(c.alloc.VA2PA(c.periodicAddr)))
	c.ops.Write(opAsyncListAddr, uint32(c.alloc.VA2PA(c.sentinel.addr))|1)

	if cfg.CollapsedBase {
		c.ops.SetN(opUSBMode, usbModeCMPos, usbModeCMMask, usbModeCMHost)
	}

	c.ops.Or(opUSBCmd, 1<<usbCmdPSE)
	c.ops.Or(opUSBCmd, 1<<usbCmdRun)
	c.spinUntilClear(opUSBSts, stsHCH)

	c.ops.Write(opConfigFlag, 1)

	time.Sleep(50 * time.Millisecond)

	c.startAsync()

	return c, nil
}

func (c *Controller) stop() {
	c.ops.AndNot(opUSBCmd, 1<<usbCmdRun)
	c.spinUntilSet(opUSBSts, stsHCH)
}

func (c *Controller) reset() {
	c.ops.Or(opUSBCmd, 1<<usbCmdHCReset)
	deadline := time.Now().Add(spinTimeout)
	for c.ops.Get(opUSBCmd, usbCmdHCReset, 1) != 0 {
		if time.Now().After(deadline) {
			break
		}
	}
}

// Stop halts the controller and the soft thread.
func (c *Controller) Stop() {
	c.stop()
	close(c.stopCh)
	c.irqCond.Broadcast()
}

// TransferEnqueue is the upward-contract entry point (spec §6).
func (c *Controller) TransferEnqueue(t *Transfer, p *Pipe) error {
	return c.transferEnqueue(t, p)
}

// TransferDequeue is the upward-contract entry point (spec §6).
func (c *Controller) TransferDequeue(t *Transfer) {
	c.transferDequeue(t)
}

// PipeDestroy is the upward-contract entry point (spec §6).
func (c *Controller) PipeDestroy(p *Pipe) {
	c.pipeDestroy(p)
}

// GetRoothubStatus is the upward-contract entry point (spec §6).
func (c *Controller) GetRoothubStatus(dev *Device) uint32 {
	if c.roothub == nil {
		return 0
	}
	return c.roothub.Status(dev)
}

// writePeriodicSlot writes the physical pointer val into periodic-list slot
// i, both in the DMA-resident frame list the controller walks and in the
// in-process software mirror.
func (c *Controller) writePeriodicSlot(i int, val uint32) {
	c.periodicList[i] = val
	var b [4]byte
	b[0] = byte(val)
	b[1] = byte(val >> 8)
	b[2] = byte(val >> 16)
	b[3] = byte(val >> 24)
	c.alloc.Write(c.periodicAddr, i*4, b[:])
}
