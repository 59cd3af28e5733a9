/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

package config

import "github.com/OmarIssa0/webserv/errors"

const (
	ErrorLexer errors.CodeError = iota + errors.MinPkgConfig
	ErrorSyntax
	ErrorDuplicateDirective
	ErrorUnknownDirective
	ErrorMissingDirective
	ErrorValidate
	ErrorOpenFile
	ErrorSizeLiteral
)

var isCodeError = false

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = errors.ExistInMapMessage(ErrorLexer)
	errors.RegisterIdFctMessage(ErrorLexer, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UnknownError:
		return ""
	case ErrorLexer:
		return "cannot tokenize configuration source"
	case ErrorSyntax:
		return "unexpected token while parsing configuration"
	case ErrorDuplicateDirective:
		return "duplicate directive within the same scope"
	case ErrorUnknownDirective:
		return "unknown directive for this scope"
	case ErrorMissingDirective:
		return "required directive is missing from this scope"
	case ErrorValidate:
		return "configuration did not pass validation"
	case ErrorOpenFile:
		return "cannot open configuration file"
	case ErrorSizeLiteral:
		return "invalid size literal"
	}

	return ""
}
