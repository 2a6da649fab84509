// Copyright (c) 2024 The Libxs Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

// Package socket provides low-level plumbing for the stream sockets driven by
// the reactor: creation of listening TCP sockets, non-blocking accept and the
// socket options applied to connected peers.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/jianjin/libxs/pkg/errors"
)

// SetNonblock puts the socket into non-blocking mode.
func SetNonblock(fd int) error {
	return os.NewSyscallError("setnonblock", unix.SetNonblock(fd, true))
}

// SetNoDelay controls whether the operating system should delay
// packet transmission in hopes of sending fewer packets (Nagle's algorithm).
func SetNoDelay(fd, noDelay int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, noDelay))
}

// SetRecvBuffer sets the size of the operating system's
// receive buffer associated with the connection.
func SetRecvBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size))
}

// SetSendBuffer sets the size of the operating system's
// transmit buffer associated with the connection.
func SetSendBuffer(fd, size int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size))
}

// SetReuseAddr enables SO_REUSEADDR option on socket.
func SetReuseAddr(fd, reuseAddr int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, reuseAddr))
}

// SetLinger sets the behavior of Close on a connection which still
// has data waiting to be sent or to be acknowledged.
func SetLinger(fd, sec int) error {
	var l unix.Linger
	if sec >= 0 {
		l.Onoff = 1
		l.Linger = int32(sec)
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l))
}

// TCPListenSocket creates a non-blocking listening socket bound to addr and
// returns its file descriptor along with the resolved listen address.
func TCPListenSocket(proto, addr string) (fd int, netAddr net.Addr, err error) {
	sa, family, tcpAddr, err := getTCPSockaddr(proto, addr)
	if err != nil {
		return -1, nil, err
	}

	fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if err = SetReuseAddr(fd, 1); err != nil {
		return
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, unix.SOMAXCONN)); err != nil {
		return
	}

	// An ephemeral port was resolved by the kernel, read the real one back.
	if tcpAddr.Port == 0 {
		var lsa unix.Sockaddr
		if lsa, err = unix.Getsockname(fd); err != nil {
			err = os.NewSyscallError("getsockname", err)
			return
		}
		netAddr = SockaddrToTCPAddr(lsa)
		return
	}
	netAddr = tcpAddr
	return
}

// Accept accepts one pending connection on the listening socket fd,
// putting the new socket into non-blocking mode. It returns unix.EAGAIN
// when no connection is pending.
func Accept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sa, nil
}

// Socketpair returns a pair of connected, non-blocking stream sockets.
func Socketpair() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fds, os.NewSyscallError("socketpair", err)
	}
	return fds, nil
}

// SockaddrToTCPAddr converts a Sockaddr to a net.TCPAddr.
// Returns nil if conversion fails.
func SockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP{}, sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		ip, zone := sockaddrInet6ToIPAndZone(sa)
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zone}
	}
	return nil
}

func sockaddrInet6ToIPAndZone(sa *unix.SockaddrInet6) (net.IP, string) {
	ip := append(net.IP{}, sa.Addr[:]...)
	var zone string
	if sa.ZoneId != 0 {
		if iface, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
			zone = iface.Name
		}
	}
	return ip, zone
}

func getTCPSockaddr(proto, addr string) (sa unix.Sockaddr, family int, tcpAddr *net.TCPAddr, err error) {
	tcpAddr, err = net.ResolveTCPAddr(proto, addr)
	if err != nil {
		return
	}

	var tcpVersion string
	tcpVersion, err = determineTCPProto(proto, tcpAddr)
	if err != nil {
		return
	}

	switch tcpVersion {
	case "tcp4":
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if tcpAddr.IP != nil {
			if len(tcpAddr.IP) == 16 {
				copy(sa4.Addr[:], tcpAddr.IP[12:16]) // copy last 4 bytes of slice to array
			} else {
				copy(sa4.Addr[:], tcpAddr.IP)
			}
		}
		sa, family = sa4, unix.AF_INET
	case "tcp", "tcp6":
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		if tcpAddr.IP != nil {
			copy(sa6.Addr[:], tcpAddr.IP.To16())
		}
		if tcpAddr.Zone != "" {
			var iface *net.Interface
			iface, err = net.InterfaceByName(tcpAddr.Zone)
			if err != nil {
				return
			}
			sa6.ZoneId = uint32(iface.Index)
		}
		sa, family = sa6, unix.AF_INET6
	default:
		err = errors.ErrUnsupportedProtocol
	}

	return
}

func determineTCPProto(proto string, addr *net.TCPAddr) (string, error) {
	// If the protocol is set to "tcp", we try to determine the actual protocol
	// version from the size of the resolved IP address.
	if addr.IP.To4() != nil {
		return "tcp4", nil
	}
	if addr.IP.To16() != nil {
		return "tcp6", nil
	}
	switch proto {
	case "tcp", "tcp4", "tcp6":
		return proto, nil
	}
	return "", errors.ErrUnsupportedProtocol
}
