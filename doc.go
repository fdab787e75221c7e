/*
Package kvtree contains a disk-resident, immutable sorted map of byte keys to
byte values. It is the storage layer for index structures that need fast
point lookups as well as ordered, seekable iteration.

Data Structure Documentation

File

A file contains a series of data blocks followed by a vocabulary, a manifest
and a fixed size footer. All fixed-width integers are big endian, all
variable-width integers are vbyte encoded (see package vbyte).

    File layout:
    +---------+---------+---------+------------+----------+--------------+
    | block 0 |   ...   | block n | vocabulary | manifest | file footer  |
    +---------+---------+---------+------------+----------+--------------+

    Vocabulary:
    +------------------------+----------------+------------------------+-------------+------------------+-----------------------+-----+
    | sentinel len (4 bytes) |  sentinel key  | first key len 0 (vb)   | first key 0 | block offset (vb)| header length 0 (vb)  | ... |
    +------------------------+----------------+------------------------+-------------+------------------+-----------------------+-----+

    File footer:
    +-----------------------------+---------------------------+-----------------------+-----------------+
    | vocabulary offset (8 bytes) | manifest offset (8 bytes) | block size (4 bytes)  | magic (8 bytes) |
    +-----------------------------+---------------------------+-----------------------+-----------------+

The vocabulary is loaded into memory when a file is opened. It holds the first
key of every block and a sentinel key which is greater than every key in the
file. The manifest is a JSON object with free-form metadata.

Block

A block starts with a header of prefix-compressed keys, followed by the
values of all keys in the same order.

    Block layout:
    +--------+-----------+-----------+-------+-----------+
    | header |  value 0  |  value 1  |  ...  |  value n  |
    +--------+-----------+-----------+-------+-----------+

    Header:
    +------------+--------------+-------+---------------------+-------------+--------------+--------+---------------------+-----+
    | count (vb) | key len (vb) | key 0 | reverse end 0 (vb)  | shared (vb) | key len (vb) | suffix | reverse end 1 (vb)  | ... |
    +------------+--------------+-------+---------------------+-------------+--------------+--------+---------------------+-----+

Each key after the first shares a prefix with its predecessor. Value positions
are stored as reverse end offsets: the number of bytes between the end of the
value and the end of the block.
*/
package kvtree
