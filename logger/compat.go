/*
 * MIT License
 *
 * Copyright (c) 2021 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package logger

import "fmt"

// Log writes message at the receiver Level using the default logger.
func (l Level) Log(message string) {
	defaultLogger.Log(l.Logrus(), message)
}

// Logf writes a formatted message at the receiver Level.
func (l Level) Logf(format string, args ...interface{}) {
	defaultLogger.Logf(l.Logrus(), format, args...)
}

// LogData writes message at the receiver Level with an attached data field.
func (l Level) LogData(message string, data interface{}) {
	defaultLogger.WithField("data", data).Log(l.Logrus(), message)
}

// WithFields writes message at the receiver Level with the given fields.
func (l Level) WithFields(message string, fields map[string]interface{}) {
	defaultLogger.WithFields(fields).Log(l.Logrus(), message)
}

// LogError logs err at the receiver Level and reports whether it logged
// anything (false when err is nil).
func (l Level) LogError(err error) bool {
	if err == nil {
		return false
	}

	defaultLogger.WithField("error", err.Error()).Log(l.Logrus(), err.Error())
	return true
}

// LogErrorCtx logs err with a context string at the receiver Level, falling
// back to levelElse to report there was no error when err is nil.
func (l Level) LogErrorCtx(levelElse Level, context string, err error) bool {
	if err == nil {
		if levelElse != NilLevel {
			levelElse.Logf("%s: no error", context)
		}
		return false
	}

	defaultLogger.WithField("context", context).WithError(err).Log(l.Logrus(), context)
	return true
}

// LogErrorCtxf behaves like LogErrorCtx but builds the context string with
// fmt.Sprintf(contextPattern, args...).
func (l Level) LogErrorCtxf(levelElse Level, contextPattern string, err error, args ...interface{}) bool {
	return l.LogErrorCtx(levelElse, fmt.Sprintf(contextPattern, args...), err)
}
