/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package kernel

// Applier adapts a Kernel to the narrow (key,value)error / (key)error
// shape the AOF replayer dispatches against (internal/aof.Applier),
// without this package importing aof — the two satisfy each other
// structurally, keeping internal/aof free of a kernel dependency.
type Applier struct {
	K *Kernel
}

func (a Applier) Upsert(key, value []byte) error {
	_, err := a.K.Upsert(key, value)
	return err
}

func (a Applier) Delete(key []byte) error {
	_, err := a.K.Delete(key)
	return err
}
